package tool

import (
	"strings"

	"Aegis-MCP/internal/auth"
)

// classificationRule 把一族工具名映射到读/写能力面：工具名包含任一关键词
// 即命中该族，再按写动词决定读或写。
type classificationRule struct {
	keywords   []string
	writeVerbs []string
	read       auth.Surface
	write      auth.Surface
}

// classificationRules 是显式的工具名分类表，按顺序匹配，先命中先生效。
// 钱包族的写动词对应交易构造类操作，命中即要求签名能力面。
var classificationRules = []classificationRule{
	{
		keywords:   []string{"email", "gmail"},
		writeVerbs: []string{"send"},
		read:       auth.SurfaceReadGmail,
		write:      auth.SurfaceWriteGmail,
	},
	{
		keywords:   []string{"x_", "twitter"},
		writeVerbs: []string{"send", "post"},
		read:       auth.SurfaceReadSocialX,
		write:      auth.SurfaceWriteSocialX,
	},
	{
		keywords:   []string{"telegram"},
		writeVerbs: []string{"send"},
		read:       auth.SurfaceReadSocialTelegram,
		write:      auth.SurfaceWriteSocialTelegram,
	},
	{
		keywords:   []string{"wallet", "token", "transaction", "swap", "lending", "nft", "market", "fee"},
		writeVerbs: []string{"build", "transfer", "swap"},
		read:       auth.SurfaceReadWallet,
		write:      auth.SurfaceSignTransactions,
	},
}

// Classify 按分类表把工具名解析为能力面。无法归类的名称返回 UNKNOWN，
// 鉴权拦截器对 UNKNOWN 一律拒绝，宁可误杀不可放行。
func Classify(toolName string) auth.Surface {
	name := strings.ToLower(strings.TrimSpace(toolName))
	if name == "" {
		return auth.SurfaceUnknown
	}
	for _, rule := range classificationRules {
		if !containsAny(name, rule.keywords) {
			continue
		}
		if containsAny(name, rule.writeVerbs) {
			return rule.write
		}
		return rule.read
	}
	return auth.SurfaceUnknown
}

func containsAny(name string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(name, needle) {
			return true
		}
	}
	return false
}

// credentialKey 返回某能力面在注入阶段使用的凭证键名，空串表示该能力面
// 不携带 OAuth 凭证。
func credentialKey(surface auth.Surface) string {
	switch surface {
	case auth.SurfaceReadGmail, auth.SurfaceWriteGmail:
		return "gmail_token"
	case auth.SurfaceReadSocialX, auth.SurfaceWriteSocialX:
		return "x_token"
	case auth.SurfaceReadSocialTelegram, auth.SurfaceWriteSocialTelegram:
		return "telegram_token"
	default:
		return ""
	}
}

// walletScoped 报告某能力面的工具是否默认携带用户钱包地址。
func walletScoped(surface auth.Surface) bool {
	return surface == auth.SurfaceReadWallet || surface == auth.SurfaceSignTransactions
}
