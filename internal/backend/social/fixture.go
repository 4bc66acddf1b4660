package social

// 默认样例消息流。Telegram 流里有一条登录验证码，用于演示策略引擎
// 对消息类载荷的拦截。

func fixtureDMs() []DirectMessage {
	return []DirectMessage{
		{
			ID:             "dm-2001",
			ConversationID: "conv-11",
			SenderID:       "u-501",
			SenderUsername: "ravi_builds",
			Text:           "Hey, did you see the grant announcement? Deadline is next Tuesday.",
			Timestamp:      "2026-08-20T14:31:00Z",
		},
		{
			ID:             "dm-2002",
			ConversationID: "conv-12",
			SenderID:       "u-502",
			SenderUsername: "lena_dev",
			Text:           "The demo went well. Sending over the notes tomorrow morning.",
			Timestamp:      "2026-08-21T18:05:00Z",
		},
	}
}

func fixtureMentions() []Mention {
	return []Mention{
		{
			ID:             "tweet-3001",
			AuthorID:       "u-601",
			AuthorUsername: "chainweekly",
			Text:           "Great thread by @me on gas optimization, worth a read.",
			Timestamp:      "2026-08-19T09:12:00Z",
		},
		{
			ID:             "tweet-3002",
			AuthorID:       "u-602",
			AuthorUsername: "devrel_jo",
			Text:           "@me will you be at the Lisbon meetup next month?",
			Timestamp:      "2026-08-22T20:47:00Z",
		},
	}
}

func fixtureTelegram() []TelegramMessage {
	return []TelegramMessage{
		{
			ID:           "tg-4001",
			ChatID:       "chat-71",
			FromID:       "u-701",
			FromUsername: "marco",
			Text:         "Standup moved to 10:30 today, same link.",
			Timestamp:    "2026-08-22T07:02:00Z",
		},
		{
			ID:           "tg-4002",
			ChatID:       "chat-72",
			FromID:       "u-702",
			FromUsername: "exchange_bot",
			Text:         "Your login code: 445566",
			Timestamp:    "2026-08-22T07:45:00Z",
		},
		{
			ID:           "tg-4003",
			ChatID:       "chat-71",
			FromID:       "u-703",
			FromUsername: "priya",
			Text:         "Can you review the rollup PR before lunch?",
			Timestamp:    "2026-08-22T08:10:00Z",
		},
	}
}
