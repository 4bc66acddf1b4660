package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// coreSystemPrompt 是所有对话共享的基础提示词。隐私规则部分与策略引擎的
// 检测类别保持一一对应，引用格式部分与聚合层生成的 sources 字段保持一致，
// 修改任何一侧时必须同步另一侧。
const coreSystemPrompt = `You are Aegis, a privacy-first AI assistant.

## CRITICAL PRIVACY RULES

You MUST follow these rules at all times:

1. **NEVER extract, repeat, or expose sensitive data:**
   - OTP codes (one-time passwords, verification codes, 2FA codes)
   - Passwords or password reset links
   - Recovery phrases (12-word or 24-word seed phrases)
   - Private keys or secret keys
   - Bank account numbers or routing numbers
   - Social Security Numbers (SSN) or Tax IDs
   - Credit card numbers or CVV codes
   - API keys or authentication tokens

2. **NEVER auto-execute write operations:**
   - Do NOT send emails without explicit user confirmation
   - Do NOT post tweets or send DMs without explicit user confirmation
   - Do NOT send Telegram messages without explicit user confirmation
   - Do NOT sign or submit transactions without explicit user confirmation
   - Always present a preview and wait for user approval

3. **ALWAYS cite sources:**
   - When answering from email data, cite the email: [gmail:message_id]
   - When answering from X/Twitter, cite the tweet: [x:tweet_id]
   - When answering from Telegram, cite the message: [telegram:message_id]
   - When answering from wallet data, cite the source: [wallet:transaction_hash]
   - When answering from web search, cite the URL: [web:url]
   - When answering from documentation, cite the doc: [docs:source_name]

4. **Treat all user data as confidential:**
   - Email content, subjects, and sender information
   - Direct messages and social media posts
   - Wallet addresses, balances, and transaction history
   - Never share user data with third parties
   - Never log or store sensitive information

5. **Refuse requests that would expose sensitive data:**
   - If a user asks for OTP codes, politely refuse and explain why
   - If a user asks for passwords, politely refuse and explain why
   - If a user asks for recovery phrases, politely refuse and explain why
   - Suggest secure alternatives when appropriate

## CAPABILITIES

You have access to the following surfaces and tools:

### Gmail Integration
- **Read Access**: Search email threads, read email content
- **Write Access**: Send emails (requires user confirmation)
- **Filtering**: Emails containing OTP codes, verification codes, or passwords are automatically filtered out
- **Example queries**: "Show me emails about hackathons from last month", "Find emails from john@example.com"

### X/Twitter Integration
- **Read Access**: Read mentions, read direct messages
- **Write Access**: Send DMs (requires user confirmation)
- **Filtering**: Messages containing sensitive data are automatically filtered out
- **Example queries**: "What are my recent mentions?", "Show me DMs from @username"

### Telegram Integration
- **Read Access**: Read messages from chats and groups
- **Write Access**: Send messages (requires user confirmation)
- **Filtering**: Messages containing sensitive data are automatically filtered out
- **Example queries**: "Show me recent Telegram messages", "What did @username say?"

### Wallet Integration
- **Read Access**: View wallet portfolio, token balances, transaction history, fee estimates
- **Transaction Building**: Build unsigned transaction payloads for transfers and swaps
- **Signing**: Transactions are signed on the user's device; you never see private keys
- **Limitations**: Cannot access private keys or recovery phrases
- **Example queries**: "What's my wallet balance?", "Show my recent transactions", "Send 1 ETH to [address]"

### Market Data
- **Prices**: Token prices, trending tokens, market sentiment
- **Swaps**: Swap quotes with rate, slippage and fee preview (execution requires confirmation)
- **Lending**: Current lending and staking rates across supported protocols
- **NFTs**: Collection metadata and floor prices

### Documentation & Web Search
- **Knowledge Base**: Query product and protocol documentation
- **Web Search**: Search the web for current information
- **Source Citation**: Always cite documentation sources and web URLs

## CONFIRMATION REQUIREMENTS

Before executing any write operation, you MUST:

1. **Describe the action clearly**: Explain what will happen in plain language
2. **Show all relevant details**:
   - For emails: recipient, subject, body preview
   - For social posts: platform, content, visibility
   - For transactions: recipient address, amount, token, estimated fees
   - For swaps: amounts, rate, slippage, fees
3. **Request explicit confirmation**: Ask "Do you want to proceed?"
4. **Wait for user response**: Never assume confirmation

## RESPONSE FORMAT

Structure your responses as follows:

1. **Direct Answer**: Provide a clear, concise answer to the user's query
2. **Source Citations**: Include inline citations using the format specified above
3. **Additional Context**: Provide relevant context or related information if helpful
4. **Warnings**: Alert users to risks, fees, or important considerations

## ERROR HANDLING

When you encounter errors or limitations:

1. **Missing Permissions**: "I don't have permission to access [surface]. Would you like to grant access in Settings?"
2. **Filtered Content**: "Some results were filtered out to protect sensitive information (OTP codes, passwords, etc.)"
3. **API Failures**: "I'm having trouble connecting to [service]. Please try again in a moment."
4. **Invalid Requests**: "I can't [action] because [reason]. Here's what I can do instead: [alternatives]"

## REMEMBER

Your primary goal is to be helpful while maintaining the highest standards of privacy and security. When in doubt, err on the side of caution and protect user data. Never compromise on the CRITICAL PRIVACY RULES listed above.`

// System 生成带上下文裁剪的系统提示词。availableSurfaces 为用户已授权的
// 能力面列表，customInstructions 为部署方追加的额外指令，两者均可为空。
func System(availableSurfaces []string, customInstructions string) string {
	var builder strings.Builder
	builder.WriteString(coreSystemPrompt)

	if len(availableSurfaces) > 0 {
		builder.WriteString("\n\n## AVAILABLE SURFACES\n\n")
		builder.WriteString("The user has granted you access to the following surfaces:\n")
		for _, surface := range availableSurfaces {
			builder.WriteString("- " + surface + "\n")
		}
		builder.WriteString("\nOnly use tools and access data from these surfaces.\n")
	}

	if trimmed := strings.TrimSpace(customInstructions); trimmed != "" {
		builder.WriteString("\n\n## ADDITIONAL INSTRUCTIONS\n\n")
		builder.WriteString(trimmed)
		builder.WriteString("\n")
	}

	return builder.String()
}

// confirmationFormatters 按动作类型分发确认文案。新增写操作时在此注册。
var confirmationFormatters = map[string]func(map[string]any) string{
	"send_email":       formatEmailConfirmation,
	"post_tweet":       formatTweetConfirmation,
	"send_telegram":    formatTelegramConfirmation,
	"sign_transaction": formatTransactionConfirmation,
	"swap_tokens":      formatSwapConfirmation,
	"stake_tokens":     formatStakeConfirmation,
	"buy_nft":          formatNFTBuyConfirmation,
	"sell_nft":         formatNFTSellConfirmation,
}

// Confirmation 为写操作生成确认文案。未注册的动作类型会退化为通用格式，
// 以保证任何写路径都至少有一段可供用户审阅的文字。
func Confirmation(action string, details map[string]any) string {
	if formatter, ok := confirmationFormatters[action]; ok {
		return formatter(details)
	}
	return fmt.Sprintf("Confirm action: %s\nDetails: %v", action, details)
}

// detail 读取动作详情中的单个字段，缺失时返回 N/A 占位符。
func detail(details map[string]any, key string) string {
	if details == nil {
		return "N/A"
	}
	value, ok := details[key]
	if !ok || value == nil {
		return "N/A"
	}
	text := strings.TrimSpace(fmt.Sprintf("%v", value))
	if text == "" {
		return "N/A"
	}
	return text
}

// detailOr 与 detail 类似，但允许指定缺省值（例如默认币种）。
func detailOr(details map[string]any, key, fallback string) string {
	if value := detail(details, key); value != "N/A" {
		return value
	}
	return fallback
}

func formatEmailConfirmation(details map[string]any) string {
	return fmt.Sprintf(`Ready to send email:

To: %s
Subject: %s
Body Preview: %s

Do you want to send this email?`,
		detail(details, "to"),
		detail(details, "subject"),
		detail(details, "body_preview"),
	)
}

func formatTweetConfirmation(details map[string]any) string {
	content := detail(details, "content")
	count := 0
	if content != "N/A" {
		count = utf8.RuneCountInString(content)
	}
	return fmt.Sprintf(`Ready to post tweet:

Content: %s
Character Count: %d

Do you want to post this tweet?`, content, count)
}

func formatTelegramConfirmation(details map[string]any) string {
	return fmt.Sprintf(`Ready to send Telegram message:

To: %s
Message: %s

Do you want to send this message?`,
		detail(details, "chat"),
		detail(details, "message"),
	)
}

func formatTransactionConfirmation(details map[string]any) string {
	token := detailOr(details, "token", "ETH")
	return fmt.Sprintf(`Ready to sign transaction:

Recipient: %s
Amount: %s %s
Estimated Fee: %s ETH
Total: %s %s

Do you want to proceed? You'll need to confirm on your device.`,
		detail(details, "recipient"),
		detail(details, "amount"), token,
		detail(details, "fee"),
		detail(details, "total"), token,
	)
}

func formatSwapConfirmation(details map[string]any) string {
	fromToken := detail(details, "from_token")
	toToken := detail(details, "to_token")
	return fmt.Sprintf(`Ready to swap tokens:

From: %s %s
To: %s %s
Rate: 1 %s = %s %s
Slippage: %s%%
Estimated Fee: %s ETH

Do you want to proceed with this swap?`,
		detail(details, "from_amount"), fromToken,
		detail(details, "to_amount"), toToken,
		fromToken, detail(details, "rate"), toToken,
		detail(details, "slippage"),
		detail(details, "fee"),
	)
}

func formatStakeConfirmation(details map[string]any) string {
	return fmt.Sprintf(`Ready to stake tokens:

Amount: %s %s
Protocol: %s
APY: %s%%
Estimated Fee: %s ETH

Do you want to proceed with staking?`,
		detail(details, "amount"),
		detailOr(details, "token", "ETH"),
		detail(details, "protocol"),
		detail(details, "apy"),
		detail(details, "fee"),
	)
}

func formatNFTBuyConfirmation(details map[string]any) string {
	return fmt.Sprintf(`Ready to buy NFT:

Collection: %s
NFT: %s
Price: %s ETH
Marketplace: %s
Estimated Fee: %s ETH
Total: %s ETH

Do you want to proceed with this purchase?`,
		detail(details, "collection"),
		detail(details, "name"),
		detail(details, "price"),
		detail(details, "marketplace"),
		detail(details, "fee"),
		detail(details, "total"),
	)
}

func formatNFTSellConfirmation(details map[string]any) string {
	return fmt.Sprintf(`Ready to list NFT for sale:

Collection: %s
NFT: %s
List Price: %s ETH
Marketplace: %s
Marketplace Fee: %s%%

Do you want to list this NFT?`,
		detail(details, "collection"),
		detail(details, "name"),
		detail(details, "price"),
		detail(details, "marketplace"),
		detail(details, "marketplace_fee"),
	)
}
