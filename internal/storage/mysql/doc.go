// Package mysql provides the relational persistence layer backed by MySQL.
// It hosts the authentication directory (users, roles, permissions, surface
// grants, connector credentials) and the embedded schema migrations shared
// by the SQL-backed stores.
package mysql
