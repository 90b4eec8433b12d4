package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"github.com/tutorgo-dev/tutorgo/internal/workflow"
	"github.com/tutorgo-dev/tutorgo/pkg/observability"
	"github.com/tutorgo-dev/tutorgo/pkg/session"
)

const replHelp = `Commands:
  /doc <id>      bind the next turn to a document
  /answer        start answer formulation (next message is the transcript)
  /new           drop the current thread and start fresh
  /thread        print the current thread ID
  /help          this help
  /quit          exit

Anything else is sent to the tutor. Say "start quiz" to begin a quiz,
"cancel quiz" to leave one.`

// runREPL drives HandleTurn from an interactive terminal session
func runREPL() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	observability.InitMetrics()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := filepath.Join(os.TempDir(), ".tutorgo_history")
	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	userID := os.Getenv("USER")
	if userID == "" {
		userID = "local"
	}

	fmt.Printf("tutorgo v%s (provider: %s, store: %s). Type /help for commands.\n",
		Version, a.cfg.Provider, a.cfg.Store.Backend)

	var (
		threadID   string
		documentID string
	)

	for ctx.Err() == nil {
		input, err := line.Prompt("> ")
		if err != nil {
			// Ctrl-C or Ctrl-D ends the session
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		var command string
		switch {
		case input == "/quit" || input == "/exit":
			return nil
		case input == "/help":
			fmt.Println(replHelp)
			continue
		case input == "/new":
			threadID, documentID = "", ""
			fmt.Println("Started a new thread.")
			continue
		case input == "/thread":
			if threadID == "" {
				fmt.Println("No active thread.")
			} else {
				fmt.Println(threadID)
			}
			continue
		case strings.HasPrefix(input, "/doc "):
			documentID = strings.TrimSpace(strings.TrimPrefix(input, "/doc "))
			fmt.Printf("Using document %q.\n", documentID)
			continue
		case input == "/answer":
			transcript, err := line.Prompt("transcript> ")
			if err != nil {
				fmt.Println()
				return nil
			}
			input = strings.TrimSpace(transcript)
			command = workflow.CommandFormulateAnswer
			threadID = ""
		}

		resp, err := a.sup.HandleTurn(ctx, workflow.TurnRequest{
			UserID:     userID,
			ThreadID:   threadID,
			DocumentID: documentID,
			QueryText:  input,
			Command:    command,
		})
		if err != nil {
			log.Printf("turn failed: %v", err)
			continue
		}

		threadID = resp.ThreadID
		printResponse(resp)
	}
	return nil
}

func printResponse(resp *workflow.TurnResponse) {
	fmt.Println(resp.ResponseText)

	switch {
	case resp.QuizCancelled:
		fmt.Println("(quiz cancelled)")
	case resp.QuizComplete && resp.WorkflowKind == session.WorkflowQuiz:
		fmt.Printf("(quiz complete: %d/%d)\n", resp.Score, resp.QuestionCount)
	case resp.QuizActive:
		fmt.Printf("(quiz: question %d, score %d)\n", resp.QuestionCount, resp.Score)
	}
	if resp.Error != "" {
		fmt.Printf("(note: %s)\n", resp.Error)
	}
}
