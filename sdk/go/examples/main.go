package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"Aegis-MCP/sdk/go/aegis"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(aegis.TokenPair{
			AccessToken:  "demo-token",
			RefreshToken: "demo-refresh",
			ExpiresIn:    3600,
			TokenType:    "Bearer",
			Surfaces:     []string{"READ_GMAIL", "READ_WALLET"},
		})
	})
	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(aegis.Outcome{
			Response: "You have 2 unread emails. Your wallet holds 1.42 ETH.",
			Sources: []aegis.Source{
				{URI: "gmail://inbox/unread", Tool: "fetch_unread_emails", Surface: "READ_GMAIL"},
				{URI: "wallet://balance", Tool: "get_wallet_balance", Surface: "READ_WALLET"},
			},
			Errors: []string{},
		})
	})
	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(aegis.Task{
				ID:        "task-demo",
				Query:     "summarize today's mentions",
				Status:    aegis.TaskPending,
				CreatedAt: time.Now().Unix(),
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/tasks/task-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(aegis.Task{
			ID:     "task-demo",
			Query:  "summarize today's mentions",
			Status: aegis.TaskSucceeded,
			Result: &aegis.Outcome{
				Response: "3 mentions today, two about the launch thread.",
				Sources:  []aegis.Source{{URI: "x://mentions", Surface: "READ_SOCIAL_X"}},
				Errors:   []string{},
			},
			UpdatedAt: time.Now().Unix(),
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := aegis.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pair, err := client.Authenticate(ctx, aegis.PasswordGrant("demo", "secret", "READ_GMAIL", "READ_WALLET"))
	if err != nil {
		panic(err)
	}
	fmt.Printf("authenticated, surfaces granted: %v\n", pair.Surfaces)

	outcome, err := client.Ask(ctx, "check my inbox and wallet")
	if err != nil {
		panic(err)
	}
	fmt.Printf("assistant: %s (sources=%d)\n", outcome.Response, len(outcome.Sources))

	created, err := client.SubmitTask(ctx, aegis.TaskSubmission{Query: "summarize today's mentions"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("queued task %s (status=%s)\n", created.ID, created.Status)

	final, err := client.WaitTask(ctx, created.ID, 50*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s finished: %s\n", final.ID, final.Result.Response)
}
