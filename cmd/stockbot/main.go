package main

import (
	"context"

	"github.com/maltedev/stock-alert-bot/cmd/stockbot/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
