package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/raedthawaba/teledroid/pkg/teledroid/config"
	"github.com/raedthawaba/teledroid/pkg/teledroid/interpret"
)

// newChatCmd creates the `teledroid chat` command, a local dry run of
// the command interpreter. Nothing is sent to a device.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Try the command interpreter locally",
		Long: `Interpret a message the way the bot would, printing the resolved
device action instead of executing it. Without arguments, starts an
interactive prompt.

Examples:
  teledroid chat "اعرض حالة البطارية"
  teledroid chat  # interactive mode`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		// No config needed for the pattern rules; run without the
		// language-model fallback.
		cfg = config.DefaultConfig()
		cfg.LLM.Enabled = false
	}

	logger := buildLogger(cmd, cfg)
	config.ResolveSecretsFromKeyring(cfg, logger)
	interp := interpret.New(buildBackend(cfg, logger), logger)

	if len(args) > 0 {
		return interpretOnce(interp, args[0])
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "teledroid> ",
		InterruptPrompt: "^C",
	})
	if err != nil {
		return fmt.Errorf("starting prompt: %w", err)
	}
	defer rl.Close()

	fmt.Println("Type a command in Arabic or English; Ctrl+D exits.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil { // io.EOF
			if !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		}
		if line == "" {
			continue
		}
		if err := interpretOnce(interp, line); err != nil {
			fmt.Println("❌", err)
		}
	}
}

// interpretOnce prints the action resolved for one input line.
func interpretOnce(interp *interpret.Interpreter, text string) error {
	action, err := interp.Interpret(context.Background(), text, "")
	if err != nil {
		var failure *interpret.Failure
		if errors.As(err, &failure) {
			fmt.Println("❌", failure.Reason)
			return nil
		}
		return err
	}

	out, err := json.MarshalIndent(action, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// buildBackend picks the interpreter backend: the language-model
// fallback when configured, otherwise a stub that asks the user to use
// the explicit commands.
func buildBackend(cfg *config.Config, logger *slog.Logger) interpret.Backend {
	if cfg.LLM.Enabled {
		return interpret.NewFallback(cfg.LLM, logger)
	}
	return disabledBackend{}
}

// disabledBackend rejects every unmatched message with a usage hint.
type disabledBackend struct{}

func (disabledBackend) Interpret(ctx context.Context, text, deviceContext string) (*interpret.Action, error) {
	return nil, &interpret.Failure{Reason: "لم أتمكن من فهم الطلب. أرسل /help لعرض الأوامر المتاحة."}
}
