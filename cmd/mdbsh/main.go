// Command mdbsh is an interactive shell over pkg/client, adapted from
// the teacher's docdbsh REPL: the IPC socket and numeric database ids
// are gone, replaced by a direct in-process pkg/client.Client talking
// to either backend named in SPEC_FULL.md §5.8.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/kartikbazzad/modb/cmd/mdbsh/commands"
	"github.com/kartikbazzad/modb/cmd/mdbsh/parser"
	"github.com/kartikbazzad/modb/cmd/mdbsh/shell"
	"github.com/kartikbazzad/modb/internal/config"
	"github.com/kartikbazzad/modb/internal/logger"
	"github.com/kartikbazzad/modb/pkg/client"
)

func main() {
	backend := flag.String("backend", "volatile", "backend: volatile | s3")
	endpoint := flag.String("endpoint", "", "s3 endpoint (host:port)")
	bucket := flag.String("bucket", "", "s3 bucket")
	accessKey := flag.String("access-key", "", "s3 access key id")
	secretKey := flag.String("secret-key", "", "s3 secret access key")
	insecure := flag.Bool("insecure", false, "disable TLS for the s3 endpoint")
	flag.Parse()

	log := logger.Default()
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.ObjectStore.Endpoint = *endpoint
	cfg.ObjectStore.Bucket = *bucket
	cfg.ObjectStore.AccessKeyID = *accessKey
	cfg.ObjectStore.SecretAccessKey = *secretKey
	cfg.ObjectStore.UseSSL = !*insecure

	kind := client.Volatile
	if *backend == "s3" {
		kind = client.ObjectStorage
	}

	c, err := client.Connect(ctx, kind, cfg)
	if err != nil {
		log.Error("connect: %v", err)
		os.Exit(1)
	}
	defer c.Close(ctx)

	sh := shell.New(c)
	runREPL(ctx, sh, cfg.Shell.Prompt, cfg.Shell.HistorySize)
}

func runREPL(ctx context.Context, sh *shell.Shell, prompt string, historySize int) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt(prompt)
		if err != nil {
			return // EOF or Ctrl-D
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		sh.AddHistory(input)

		cmd, err := parser.Parse(input)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}

		result := dispatch(ctx, sh, cmd)
		if result.Err != "" {
			fmt.Println("error:", result.Err)
		} else if result.Output != "" {
			fmt.Print(result.Output)
			if !strings.HasSuffix(result.Output, "\n") {
				fmt.Println()
			}
		}
		if result.Exit {
			return
		}
	}
}

func dispatch(ctx context.Context, sh *shell.Shell, cmd *parser.Command) commands.Result {
	switch cmd.Name {
	case ".help":
		return commands.Help()
	case ".exit", ".quit":
		return commands.Exit()
	case ".clear":
		return commands.Clear()
	case ".use":
		if len(cmd.Args) == 0 {
			return commands.Result{Err: "usage: .use <db>"}
		}
		return commands.UseDB(sh, cmd)
	case ".collection":
		return commands.UseCollection(sh, cmd)
	case ".pretty":
		return commands.Pretty(sh, cmd)
	case ".history":
		return commands.History(sh)
	case ".insert":
		return commands.Insert(ctx, sh, cmd)
	case ".find":
		return commands.Find(ctx, sh, cmd, sh.Pretty())
	case ".findone":
		return commands.FindOne(ctx, sh, cmd, sh.Pretty())
	case ".update":
		return commands.Update(ctx, sh, cmd)
	case ".deleteone":
		return commands.DeleteOne(ctx, sh, cmd)
	case ".createindex":
		return commands.CreateIndex(ctx, sh, cmd)
	case ".dropindex":
		return commands.DropIndex(ctx, sh, cmd)
	case ".indexes":
		return commands.ListIndexes(ctx, sh)
	default:
		return commands.Result{Err: fmt.Sprintf("unknown command: %s (try .help)", cmd.Name)}
	}
}
