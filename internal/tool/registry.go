package tool

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"Aegis-MCP/internal/auth"
	"Aegis-MCP/internal/llm"
	"Aegis-MCP/pkg/logger"
)

// Definitions 对应 configs/tools.yaml 的结构。
type Definitions struct {
	Tools map[string]Definition `yaml:"tools"`
}

// Definition 描述对单个工具注册信息的覆盖项。
type Definition struct {
	Description    string `yaml:"description"`
	RemoteEndpoint string `yaml:"remote_endpoint"`
	Disabled       bool   `yaml:"disabled"`
}

// LoadDefinitions 解析工具定义文件。路径为空时返回空定义，
// 注册表可以在没有配置文件的情况下工作。
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Tools: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取工具定义失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析工具定义失败: %w", err)
	}
	if defs.Tools == nil {
		defs.Tools = map[string]Definition{}
	}
	return defs, nil
}

type binding struct {
	descriptor Descriptor
	invoker    Invoker
}

// Registry 持有全量工具注册表。装配发生在进程启动阶段，完成后只读。
type Registry struct {
	bindings map[string]binding
}

// NewRegistry 汇总各后端声明的工具，推导能力面并套用定义文件的覆盖项。
// 工具名冲突视为装配错误。
func NewRegistry(defs Definitions, invokers ...Invoker) (*Registry, error) {
	log := logger.Named("tool.registry")
	bindings := make(map[string]binding)
	for _, invoker := range invokers {
		if invoker == nil {
			continue
		}
		for _, descriptor := range invoker.Descriptors() {
			name := strings.ToLower(strings.TrimSpace(descriptor.Name))
			if name == "" {
				return nil, fmt.Errorf("后端 %s 声明了空的工具名", invoker.Name())
			}
			if _, exists := bindings[name]; exists {
				return nil, fmt.Errorf("工具 %s 被重复注册", name)
			}

			descriptor.Name = name
			descriptor.Surface = Classify(name)
			if override, ok := defs.Tools[name]; ok {
				if override.Disabled {
					log.Info("工具已在定义文件中停用", "tool_name", name)
					continue
				}
				if override.Description != "" {
					descriptor.Description = override.Description
				}
				if override.RemoteEndpoint != "" {
					descriptor.RemoteEndpoint = override.RemoteEndpoint
				}
			}
			if descriptor.Surface == auth.SurfaceUnknown {
				log.Warn("工具无法归入任何能力面，调用将始终被拒绝", "tool_name", name)
			}
			bindings[name] = binding{descriptor: descriptor, invoker: invoker}
		}
	}
	return &Registry{bindings: bindings}, nil
}

// Lookup 按名称返回已注册的工具及其后端。
func (r *Registry) Lookup(name string) (Descriptor, Invoker, bool) {
	if r == nil {
		return Descriptor{}, nil, false
	}
	bound, ok := r.bindings[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Descriptor{}, nil, false
	}
	return bound.descriptor, bound.invoker, true
}

// Descriptors 返回全部已注册工具，按名称排序。
func (r *Registry) Descriptors() []Descriptor {
	if r == nil {
		return nil
	}
	descriptors := make([]Descriptor, 0, len(r.bindings))
	for _, bound := range r.bindings {
		descriptors = append(descriptors, bound.descriptor)
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}

// BySurface 返回归入指定能力面的工具，按名称排序。
func (r *Registry) BySurface(surface auth.Surface) []Descriptor {
	if r == nil {
		return nil
	}
	var descriptors []Descriptor
	for _, bound := range r.bindings {
		if bound.descriptor.Surface == surface {
			descriptors = append(descriptors, bound.descriptor)
		}
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}

// Schemas 把注册表导出为提供给模型的函数调用声明，按名称排序以保证
// 提示词稳定。
func (r *Registry) Schemas() []llm.ToolSchema {
	descriptors := r.Descriptors()
	schemas := make([]llm.ToolSchema, 0, len(descriptors))
	for _, descriptor := range descriptors {
		schemas = append(schemas, llm.ToolSchema{
			Name:        descriptor.Name,
			Description: descriptor.Description,
			Parameters:  descriptor.InputSchema,
		})
	}
	return schemas
}
