// Package config loads the aegisd configuration file. The file is JSON,
// relative paths inside it resolve against the file's own directory, and
// secrets may be supplied indirectly through environment variable names so
// that configuration files stay safe to commit.
package config
