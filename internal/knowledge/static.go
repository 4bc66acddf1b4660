package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义文档检索的通用接口。surfaces 为本次查询涉及的能力面名称，
// 用于匹配按能力面打标的文档。
type Provider interface {
	Search(query string, surfaces []string) []Document
}

// Document 描述一段可在回答中被引用的文档内容。
type Document struct {
	ID       string   `json:"id,omitempty"`
	Source   string   `json:"source"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	URL      string   `json:"url,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Citation 返回该文档在回答 sources 列表中的引用标记。
func (d Document) Citation() string {
	source := strings.TrimSpace(d.Source)
	if source == "" {
		source = strings.TrimSpace(d.Title)
	}
	return "docs:" + source
}

// StaticProvider 通过加载 JSON 文件提供静态文档检索能力。
type StaticProvider struct {
	items      []Document
	maxResults int
}

// NewStaticProvider 创建静态文档库实例。
func NewStaticProvider(items []Document, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载文档条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("文档库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析文档库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取文档库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Document
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析文档库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Search 根据查询文本和涉及的能力面做简单匹配，最多返回 maxResults 条。
func (p *StaticProvider) Search(query string, surfaces []string) []Document {
	if p == nil {
		return nil
	}

	query = strings.ToLower(strings.TrimSpace(query))
	surfaceText := strings.ToLower(strings.Join(surfaces, " "))

	results := make([]Document, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, query, surfaceText) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(doc Document, query, surfaceText string) bool {
	if len(doc.Keywords) == 0 {
		return true
	}
	for _, keyword := range doc.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(query, normalized) {
			return true
		}
	}
	if len(doc.Tags) == 0 {
		return false
	}
	for _, tag := range doc.Tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if strings.Contains(query, normalized) || strings.Contains(surfaceText, normalized) {
			return true
		}
	}
	return false
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
