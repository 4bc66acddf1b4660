// Package websearch 提供基于 Brave Search API 的网页搜索能力，作为文档库
// 没有命中时的回退数据源，搜索结果以 [web:url] 形式被回答引用。
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://api.search.brave.com/res/v1/web/search"
	defaultCount      = 5
	defaultSearchLang = "en"
	defaultCountry    = "US"
	defaultTimeout    = 30 * time.Second

	// maxPageBytes 限制 FetchPage 返回的正文长度，避免把整页 HTML 塞进提示词。
	maxPageBytes = 10000

	userAgent = "Aegis-MCP/1.0 (https://aegis-mcp.app)"
)

// Result 描述一条网页搜索结果。
type Result struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Snippet       string `json:"snippet"`
	PublishedDate string `json:"published_date,omitempty"`
	SourceDomain  string `json:"source_domain,omitempty"`
}

// Citation 返回该结果在回答 sources 列表中的引用标记。
func (r Result) Citation() string {
	return "web:" + r.URL
}

// Config 描述搜索客户端的可配置项。
type Config struct {
	APIKey     string        `json:"api_key"`
	BaseURL    string        `json:"base_url"`
	Count      int           `json:"count"`
	SearchLang string        `json:"search_lang"`
	Country    string        `json:"country"`
	Timeout    time.Duration `json:"-"`
}

// Client 是 Brave Search API 的 HTTP 客户端。
type Client struct {
	apiKey     string
	baseURL    string
	count      int
	searchLang string
	country    string
	httpClient *http.Client
}

// NewClient 创建搜索客户端。API Key 缺失视为配置错误，由装配层决定是否
// 直接跳过搜索能力。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("未提供 Brave Search API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	count := cfg.Count
	if count <= 0 {
		count = defaultCount
	}
	searchLang := strings.TrimSpace(cfg.SearchLang)
	if searchLang == "" {
		searchLang = defaultSearchLang
	}
	country := strings.TrimSpace(cfg.Country)
	if country == "" {
		country = defaultCountry
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		count:      count,
		searchLang: searchLang,
		country:    country,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Search 执行网页搜索，返回不超过配置上限的结果列表。
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("搜索关键词不能为空")
	}

	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("解析搜索服务地址失败: %w", err)
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(c.count))
	params.Set("search_lang", c.searchLang)
	params.Set("country", c.country)
	params.Set("safesearch", "moderate")
	params.Set("text_decorations", "false")
	params.Set("spellcheck", "true")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("构造搜索请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 Brave Search 失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取 Brave Search 响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("Brave Search 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded braveResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("解析 Brave Search 响应失败: %w", err)
	}

	results := make([]Result, 0, len(decoded.Web.Results))
	for _, item := range decoded.Web.Results {
		if len(results) >= c.count {
			break
		}
		results = append(results, Result{
			Title:         item.Title,
			URL:           item.URL,
			Snippet:       item.Description,
			PublishedDate: item.Age,
			SourceDomain:  domainOf(item),
		})
	}
	return results, nil
}

// FetchPage 拉取指定页面的正文片段，用于需要展开搜索结果时补充上下文。
func (c *Client) FetchPage(ctx context.Context, pageURL string) (string, error) {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return "", fmt.Errorf("页面地址不能为空")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("构造页面请求失败: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("拉取页面失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("页面返回错误状态 %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("读取页面内容失败: %w", err)
	}
	return string(body), nil
}

type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Age         string `json:"age"`
	Profile     struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// domainOf 优先使用结果自带的站点名称，否则从 URL 中提取主机名。
func domainOf(item braveResult) string {
	if name := strings.TrimSpace(item.Profile.Name); name != "" {
		return name
	}
	parsed, err := url.Parse(item.URL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return parsed.Host
}
