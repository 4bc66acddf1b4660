package gmail

// fixtureInbox 返回默认的样例收件箱。security 线程含一次性验证码，
// 用于演示策略引擎对整封邮件的拦截。
func fixtureInbox() []Message {
	return []Message{
		{
			ID:       "msg-1001",
			ThreadID: "thread-invoice-01",
			From:     "billing@acme.example.com",
			To:       []string{"me@example.com"},
			Subject:  "Invoice #2026-0731 for July services",
			Body:     "Hi, attached is the invoice for July. The total is 1,240 USD, due on August 31. Let us know if anything looks off.",
			Date:     "2026-08-02T10:15:00Z",
			Labels:   []string{"INBOX"},
		},
		{
			ID:       "msg-1002",
			ThreadID: "thread-invoice-01",
			From:     "me@example.com",
			To:       []string{"billing@acme.example.com"},
			Subject:  "Re: Invoice #2026-0731 for July services",
			Body:     "Thanks, received. We will settle it this week.",
			Date:     "2026-08-03T08:40:00Z",
			Labels:   []string{"SENT"},
		},
		{
			ID:       "msg-1003",
			ThreadID: "thread-offsite-02",
			From:     "maya@team.example.com",
			To:       []string{"me@example.com"},
			Subject:  "Team offsite in October",
			Body:     "Proposal: three days in Lisbon, October 14 to 16. Flights are still cheap. Can you confirm by Friday?",
			Date:     "2026-08-18T16:02:00Z",
			Labels:   []string{"INBOX"},
		},
		{
			ID:       "msg-1004",
			ThreadID: "thread-security-03",
			From:     "no-reply@accounts.example.com",
			To:       []string{"me@example.com"},
			Subject:  "Your sign-in code",
			Body:     "Your verification code is 123456",
			Date:     "2026-08-21T07:55:00Z",
			Labels:   []string{"INBOX"},
		},
		{
			ID:       "msg-1005",
			ThreadID: "thread-wallet-04",
			From:     "dana@hardware.example.com",
			To:       []string{"me@example.com"},
			Subject:  "Hardware wallet shipping update",
			Body:     "Your device shipped today and should arrive within five business days. Tracking number follows in a separate mail.",
			Date:     "2026-08-22T11:20:00Z",
			Labels:   []string{"INBOX"},
		},
	}
}
