package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleDocs() []Document {
	return []Document{
		{
			Source:   "wallet_docs",
			Title:    "Gas Fees Explained",
			Content:  "Priority fees rise with network congestion.",
			Keywords: []string{"gas", "fee"},
			Tags:     []string{"wallet"},
		},
		{
			Source:   "product_docs",
			Title:    "Privacy Filtering",
			Content:  "Sensitive messages are removed before aggregation.",
			Keywords: []string{"privacy", "filter"},
		},
		{
			Source:  "faq",
			Title:   "General FAQ",
			Content: "Frequently asked questions.",
		},
	}
}

func TestSearchMatchesKeyword(t *testing.T) {
	provider := NewStaticProvider(sampleDocs(), 5)

	got := provider.Search("why is my gas fee so high", nil)
	if len(got) == 0 {
		t.Fatalf("关键词匹配应返回结果")
	}
	if got[0].Source != "wallet_docs" {
		t.Fatalf("期望命中 wallet_docs，实际 %s", got[0].Source)
	}
}

func TestSearchMatchesSurfaceTag(t *testing.T) {
	provider := NewStaticProvider(sampleDocs(), 5)

	got := provider.Search("balance overview", []string{"READ_WALLET"})
	found := false
	for _, doc := range got {
		if doc.Source == "wallet_docs" {
			found = true
		}
	}
	if !found {
		t.Fatalf("能力面标签应匹配 READ_WALLET 查询: %+v", got)
	}
}

func TestSearchAlwaysIncludesUntaggedDocs(t *testing.T) {
	provider := NewStaticProvider(sampleDocs(), 5)

	got := provider.Search("totally unrelated question", nil)
	if len(got) != 1 || got[0].Source != "faq" {
		t.Fatalf("无关键词的文档应始终命中: %+v", got)
	}
}

func TestSearchHonorsMaxResults(t *testing.T) {
	provider := NewStaticProvider(sampleDocs(), 1)

	got := provider.Search("gas privacy", nil)
	if len(got) != 1 {
		t.Fatalf("结果数量应受 maxResults 限制，实际 %d", len(got))
	}
}

func TestDocumentCitation(t *testing.T) {
	doc := Document{Source: "wallet_docs", Title: "Gas"}
	if got := doc.Citation(); got != "docs:wallet_docs" {
		t.Fatalf("引用标记不符: %s", got)
	}

	untitled := Document{Title: "Orphan"}
	if got := untitled.Citation(); got != "docs:Orphan" {
		t.Fatalf("缺失 source 时应退回标题: %s", got)
	}
}

func TestLoadStaticProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docs.json")
	payload := `[{"source":"faq","title":"One","content":"c","keywords":["alpha"]}]`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	provider, err := LoadStaticProvider(path, 0)
	if err != nil {
		t.Fatalf("加载文档库失败: %v", err)
	}
	if got := provider.Search("alpha question", nil); len(got) != 1 {
		t.Fatalf("加载后的文档应可检索: %+v", got)
	}

	if _, err := LoadStaticProvider("", 3); err == nil {
		t.Fatalf("空路径应返回错误")
	}
}
