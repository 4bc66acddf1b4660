package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"Aegis-MCP/internal/auth"
	xerrors "Aegis-MCP/internal/errors"
	"Aegis-MCP/internal/tool"
)

// resourceTopics 把 surface://topic 资源 URI 映射到提供数据的工具集。
// 资源读取与对话共用同一条鉴权加过滤的执行路径。
var resourceTopics = map[string][]string{
	"gmail://inbox":       {"search_email_threads"},
	"x://dms":             {"get_x_dms"},
	"x://mentions":        {"get_x_mentions"},
	"telegram://messages": {"get_telegram_messages"},
	"wallet://portfolio":  {"get_wallet_portfolio"},
	"wallet://history":    {"get_transaction_history"},
	"wallet://fees":       {"get_priority_fee_estimate"},
	"wallet://lending":    {"get_lending_rates"},
}

// Resources 返回全部可读资源 URI，排序后输出。
func Resources() []string {
	uris := make([]string, 0, len(resourceTopics))
	for uri := range resourceTopics {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// ReadResource 读取一个资源 URI 对应的数据快照。底层工具依旧经过完整
// 的授权拦截与策略过滤，资源接口不构成权限旁路。
func (p *Pipeline) ReadResource(ctx context.Context, uri string, rc *auth.RuntimeContext) (string, error) {
	tools, ok := resourceTopics[strings.ToLower(strings.TrimSpace(uri))]
	if !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知资源: %s", uri))
	}
	userID := userIDOf(rc)

	var blocks []string
	var failures []string
	for _, name := range tools {
		result := p.executor.Execute(ctx, name, nil, rc)
		if result.Err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, result.Err))
			continue
		}
		verdict := p.engine.FilterData(userID, result.Surface.String(), normalizeData(result.Data))
		if verdict.Rejected {
			failures = append(failures, fmt.Sprintf("%s: result blocked by policy", name))
			continue
		}
		raw, err := json.MarshalIndent(verdict.Data, "", "  ")
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		blocks = append(blocks, fmt.Sprintf("## %s\n%s", name, raw))
	}
	if len(blocks) == 0 {
		message := fmt.Sprintf("资源 %s 暂无可用数据", uri)
		if len(failures) > 0 {
			message = fmt.Sprintf("%s: %s", message, strings.Join(failures, "; "))
		}
		return "", xerrors.New(xerrors.CodeToolExecution, message)
	}
	return strings.Join(blocks, "\n\n"), nil
}

// resourceURIForTool 反查工具对应的资源 URI。未登记的工具按能力面
// 推导 scheme，再从工具名剥出 topic。
func resourceURIForTool(name string) string {
	for uri, tools := range resourceTopics {
		for _, candidate := range tools {
			if candidate == name {
				return uri
			}
		}
	}
	scheme := schemeOf(tool.Classify(name))
	return scheme + "://" + topicOf(name, scheme)
}

func schemeOf(surface auth.Surface) string {
	switch surface {
	case auth.SurfaceReadGmail, auth.SurfaceWriteGmail:
		return "gmail"
	case auth.SurfaceReadSocialX, auth.SurfaceWriteSocialX:
		return "x"
	case auth.SurfaceReadSocialTelegram, auth.SurfaceWriteSocialTelegram:
		return "telegram"
	case auth.SurfaceReadWallet, auth.SurfaceSignTransactions:
		return "wallet"
	}
	return "unknown"
}

func topicOf(name, scheme string) string {
	topic := name
	for _, prefix := range []string{"get_", "search_", "fetch_", "list_", "build_", "read_"} {
		if strings.HasPrefix(topic, prefix) {
			topic = strings.TrimPrefix(topic, prefix)
			break
		}
	}
	for _, prefix := range []string{scheme + "_", "email_", "token_"} {
		if strings.HasPrefix(topic, prefix) && len(topic) > len(prefix) {
			topic = strings.TrimPrefix(topic, prefix)
			break
		}
	}
	if topic == "" {
		return name
	}
	return topic
}
