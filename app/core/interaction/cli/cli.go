package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"taskpilot/app/core/orchestrator/chat"
)

// CLI is a local REPL over the chat service. It reuses one
// conversation for the whole session, so follow-up references behave
// like a chat client.
type CLI struct {
	userID      string
	agentName   string
	chatService *chat.Service
}

func New(userID string, agentName string, chatService *chat.Service) *CLI {
	if strings.TrimSpace(userID) == "" {
		userID = "local_user"
	}
	if strings.TrimSpace(agentName) == "" {
		agentName = "TaskPilot"
	}
	return &CLI{userID: userID, agentName: agentName, chatService: chatService}
}

func (c *CLI) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Printf(">> %s CLI started. Type 'exit' to quit.\n", c.agentName)

	var conversationID int64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			fmt.Print("> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if text == "exit" || text == "quit" {
				fmt.Println("Exiting CLI loop...")
				return nil
			}

			resp, err := c.chatService.Process(ctx, c.userID, conversationID, text, "")
			if err != nil {
				fmt.Printf("[%s]: error: %v\n", c.agentName, err)
				continue
			}
			conversationID = resp.ConversationID
			fmt.Printf("[%s]: %s\n", c.agentName, resp.Reply)
		}
	}
}
