package agent

import (
	"strings"
	"unicode"

	"Aegis-MCP/internal/auth"
)

// heuristicRule 把一组关键词映射到能力面。命中读关键词即要求读能力面，
// 同时命中写动词则额外要求对应的写能力面。
type heuristicRule struct {
	read       auth.Surface
	write      auth.Surface
	keywords   []string
	writeVerbs []string
}

// heuristicRules 按序求值。钱包类词表最宽（balance、price 这类通用词多），
// 放在最后，保证 "email about my wallet" 这类请求两个能力面都会被要求。
var heuristicRules = []heuristicRule{
	{
		read:       auth.SurfaceReadGmail,
		write:      auth.SurfaceWriteGmail,
		keywords:   []string{"email", "gmail", "inbox", "mailbox", "mail"},
		writeVerbs: []string{"send", "reply", "forward", "compose"},
	},
	{
		read:       auth.SurfaceReadSocialX,
		write:      auth.SurfaceWriteSocialX,
		keywords:   []string{"twitter", "tweet", "mention", "dm"},
		writeVerbs: []string{"send", "post", "publish"},
	},
	{
		read:       auth.SurfaceReadSocialTelegram,
		write:      auth.SurfaceWriteSocialTelegram,
		keywords:   []string{"telegram"},
		writeVerbs: []string{"send", "post"},
	},
	{
		read:  auth.SurfaceReadWallet,
		write: auth.SurfaceSignTransactions,
		keywords: []string{
			"wallet", "balance", "transaction", "token", "price", "swap",
			"nft", "lending", "gas", "fee", "portfolio", "eth", "crypto",
		},
		writeVerbs: []string{"send", "transfer", "swap", "buy", "sell", "stake", "sign", "pay"},
	},
}

// classifyHeuristically 是大模型不可用时的保底意图解析：按词元精确匹配
// 关键词，返回所有命中的能力面。结果是确定性的，且宁可多要求一个能力面
// 也不放过任何写动词。
func classifyHeuristically(query string) Intent {
	tokens := tokenize(query)
	intent := Intent{Summary: strings.TrimSpace(query)}

	for _, rule := range heuristicRules {
		if !matchesAny(tokens, rule.keywords) {
			continue
		}
		intent.Surfaces = append(intent.Surfaces, rule.read)
		if matchesAny(tokens, rule.writeVerbs) {
			intent.Surfaces = append(intent.Surfaces, rule.write)
			intent.Write = true
			if intent.Action == "" {
				intent.Action = confirmationAction(rule.write, tokens)
			}
		}
	}
	return intent
}

// fieldsOf 把查询按非字母数字边界拆成小写词元，保留原始顺序。
func fieldsOf(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// tokenize 把查询拆成小写词元集合。按整词匹配而非子串匹配，避免
// "admin" 命中 "dm"、"method" 命中 "eth" 这类误报。
func tokenize(query string) map[string]struct{} {
	fields := fieldsOf(query)
	tokens := make(map[string]struct{}, len(fields)*2)
	for _, field := range fields {
		tokens[field] = struct{}{}
		// 朴素的去复数：emails/dms/prices 与词表中的单数形式对齐。
		if len(field) >= 3 && strings.HasSuffix(field, "s") {
			tokens[strings.TrimSuffix(field, "s")] = struct{}{}
		}
	}
	return tokens
}

func matchesAny(tokens map[string]struct{}, words []string) bool {
	for _, word := range words {
		if _, ok := tokens[word]; ok {
			return true
		}
	}
	return false
}

// confirmationAction 把写能力面映射到确认文案的动作类型。
func confirmationAction(write auth.Surface, tokens map[string]struct{}) string {
	switch write {
	case auth.SurfaceWriteGmail:
		return "send_email"
	case auth.SurfaceWriteSocialX:
		return "post_tweet"
	case auth.SurfaceWriteSocialTelegram:
		return "send_telegram"
	case auth.SurfaceSignTransactions:
		if _, ok := tokens["swap"]; ok {
			return "swap_tokens"
		}
		if _, ok := tokens["stake"]; ok {
			return "stake_tokens"
		}
		return "sign_transaction"
	}
	return ""
}
