// Package commands implements mdbsh's dot-commands against a
// pkg/client.Client, formatting results the way the teacher's
// docdbsh commands package does (a uniform Result, pretty-printed or
// compact JSON).
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kartikbazzad/modb/cmd/mdbsh/parser"
	"github.com/kartikbazzad/modb/cmd/mdbsh/shell"
	"github.com/kartikbazzad/modb/internal/index"
	"github.com/kartikbazzad/modb/internal/query"
)

// Result is what every command handler returns; the REPL loop renders
// it without needing to know which command produced it.
type Result struct {
	Output string
	Err    string
	Exit   bool
}

func errf(format string, args ...any) Result {
	return Result{Err: fmt.Sprintf(format, args...)}
}

func ok(output string) Result { return Result{Output: output} }

func Help() Result {
	return ok(`mdbsh commands:
  .use <db>                          select a database
  .collection <name>                 select a collection within it
  .insert <doc-json>                 insertOne
  .find <filter-json> [sort] [limit] find, prints every match
  .findone <filter-json>             findOne
  .update <filter-json> <update-json> updateOne ($set only)
  .deleteone <filter-json>           deleteOne
  .createindex <name> <fields-json>  e.g. [["category",1],["priority",-1]]
  .dropindex <name>
  .indexes                           list defined indexes
  .pretty [on|off]
  .history
  .exit`)
}

func Exit() Result { return Result{Exit: true} }

func Clear() Result { return ok("\033[H\033[2J") }

func Pretty(s *shell.Shell, cmd *parser.Command) Result {
	if len(cmd.Args) == 0 {
		return ok(fmt.Sprintf("pretty = %v", s.Pretty()))
	}
	switch cmd.Args[0] {
	case "on":
		s.SetPretty(true)
	case "off":
		s.SetPretty(false)
	default:
		return errf("usage: .pretty [on|off]")
	}
	return ok(fmt.Sprintf("pretty = %v", s.Pretty()))
}

func History(s *shell.Shell) Result {
	out := ""
	for i, h := range s.History() {
		out += fmt.Sprintf("%4d  %s\n", i+1, h)
	}
	return ok(out)
}

func UseDB(s *shell.Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errf(err.Error())
	}
	s.UseDB(cmd.Args[0])
	return ok("using database " + cmd.Args[0])
}

func UseCollection(s *shell.Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errf(err.Error())
	}
	s.UseCollection(cmd.Args[0])
	return ok("using collection " + cmd.Args[0])
}

func Insert(ctx context.Context, s *shell.Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errf(err.Error())
	}
	doc, err := parser.DecodeDocument(cmd.Args[0])
	if err != nil {
		return errf(err.Error())
	}

	c, dbName, collName, err := s.CurrentCollection(ctx)
	if err != nil {
		return errf(err.Error())
	}
	coll, err := c.DB(dbName).Collection(ctx, collName)
	if err != nil {
		return errf(err.Error())
	}

	id, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return errf(err.Error())
	}
	return ok("inserted _id: " + id)
}

func Find(ctx context.Context, s *shell.Shell, cmd *parser.Command, pretty bool) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errf(err.Error())
	}
	filter, err := parser.DecodeDocument(cmd.Args[0])
	if err != nil {
		return errf(err.Error())
	}

	c, dbName, collName, err := s.CurrentCollection(ctx)
	if err != nil {
		return errf(err.Error())
	}
	coll, err := c.DB(dbName).Collection(ctx, collName)
	if err != nil {
		return errf(err.Error())
	}

	var sortKeys []query.SortKey
	limit := 0
	if len(cmd.Args) > 1 {
		sortKeys, limit = parseSortLimit(cmd.Args[1:])
	}

	cur, err := coll.Find(ctx, filter, sortKeys, limit)
	if err != nil {
		return errf(err.Error())
	}
	defer cur.Close()

	docs, err := cur.ToArray(ctx)
	if err != nil {
		return errf(err.Error())
	}
	return ok(renderDocs(docs, pretty))
}

func FindOne(ctx context.Context, s *shell.Shell, cmd *parser.Command, pretty bool) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errf(err.Error())
	}
	filter, err := parser.DecodeDocument(cmd.Args[0])
	if err != nil {
		return errf(err.Error())
	}

	c, dbName, collName, err := s.CurrentCollection(ctx)
	if err != nil {
		return errf(err.Error())
	}
	coll, err := c.DB(dbName).Collection(ctx, collName)
	if err != nil {
		return errf(err.Error())
	}

	doc, found, err := coll.FindOne(ctx, filter)
	if err != nil {
		return errf(err.Error())
	}
	if !found {
		return ok("(no match)")
	}
	return ok(renderDocs([]map[string]any{doc}, pretty))
}

func Update(ctx context.Context, s *shell.Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 2); err != nil {
		return errf(err.Error())
	}
	filter, err := parser.DecodeDocument(cmd.Args[0])
	if err != nil {
		return errf(err.Error())
	}
	update, err := parser.DecodeDocument(cmd.Args[1])
	if err != nil {
		return errf(err.Error())
	}

	c, dbName, collName, err := s.CurrentCollection(ctx)
	if err != nil {
		return errf(err.Error())
	}
	coll, err := c.DB(dbName).Collection(ctx, collName)
	if err != nil {
		return errf(err.Error())
	}

	matched, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return errf(err.Error())
	}
	return ok(fmt.Sprintf("matched: %v", matched))
}

func DeleteOne(ctx context.Context, s *shell.Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errf(err.Error())
	}
	filter, err := parser.DecodeDocument(cmd.Args[0])
	if err != nil {
		return errf(err.Error())
	}

	c, dbName, collName, err := s.CurrentCollection(ctx)
	if err != nil {
		return errf(err.Error())
	}
	coll, err := c.DB(dbName).Collection(ctx, collName)
	if err != nil {
		return errf(err.Error())
	}

	deleted, err := coll.DeleteOne(ctx, filter)
	if err != nil {
		return errf(err.Error())
	}
	return ok(fmt.Sprintf("deleted: %v", deleted))
}

func CreateIndex(ctx context.Context, s *shell.Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 2); err != nil {
		return errf(err.Error())
	}
	def, err := decodeIndexSpec(cmd.Args[0], cmd.Args[1])
	if err != nil {
		return errf(err.Error())
	}

	c, dbName, collName, err := s.CurrentCollection(ctx)
	if err != nil {
		return errf(err.Error())
	}
	coll, err := c.DB(dbName).Collection(ctx, collName)
	if err != nil {
		return errf(err.Error())
	}

	if err := coll.CreateIndex(ctx, def); err != nil {
		return errf(err.Error())
	}
	return ok("index created: " + def.Name)
}

func DropIndex(ctx context.Context, s *shell.Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return errf(err.Error())
	}

	c, dbName, collName, err := s.CurrentCollection(ctx)
	if err != nil {
		return errf(err.Error())
	}
	coll, err := c.DB(dbName).Collection(ctx, collName)
	if err != nil {
		return errf(err.Error())
	}

	existed, err := coll.DropIndex(ctx, cmd.Args[0])
	if err != nil {
		return errf(err.Error())
	}
	return ok(fmt.Sprintf("dropped: %v", existed))
}

func ListIndexes(ctx context.Context, s *shell.Shell) Result {
	c, dbName, collName, err := s.CurrentCollection(ctx)
	if err != nil {
		return errf(err.Error())
	}
	coll, err := c.DB(dbName).Collection(ctx, collName)
	if err != nil {
		return errf(err.Error())
	}

	out := ""
	for _, def := range coll.ListIndexes() {
		out += formatDefinition(def) + "\n"
	}
	if out == "" {
		out = "(no indexes)"
	}
	return ok(out)
}

func formatDefinition(def index.Definition) string {
	out := def.Name + ": "
	for i, k := range def.Keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s:%d", k.Field, orderInt(k.Order))
	}
	return out
}

func orderInt(o index.Order) int {
	if o == index.Descending {
		return -1
	}
	return 1
}

func decodeIndexSpec(name, fieldsJSON string) (index.Definition, error) {
	var raw [][2]any
	if err := json.Unmarshal([]byte(fieldsJSON), &raw); err != nil {
		return index.Definition{}, fmt.Errorf("invalid index fields (expected [[\"field\",1],...]): %w", err)
	}
	keys := make([]index.KeyPart, len(raw))
	for i, pair := range raw {
		field, _ := pair[0].(string)
		orderVal, _ := pair[1].(float64)
		order := index.Ascending
		if orderVal < 0 {
			order = index.Descending
		}
		keys[i] = index.KeyPart{Field: field, Order: order}
	}
	return index.Definition{Name: name, Keys: keys}, nil
}

func parseSortLimit(args []string) ([]query.SortKey, int) {
	var sortKeys []query.SortKey
	limit := 0
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil {
			limit = n
			continue
		}
		desc := false
		field := a
		if len(field) > 0 && field[0] == '-' {
			desc = true
			field = field[1:]
		}
		sortKeys = append(sortKeys, query.SortKey{Field: field, Descending: desc})
	}
	return sortKeys, limit
}

func renderDocs(docs []map[string]any, pretty bool) string {
	out := ""
	for _, d := range docs {
		var body []byte
		if pretty {
			body, _ = json.MarshalIndent(d, "", "  ")
		} else {
			body, _ = json.Marshal(d)
		}
		out += string(body) + "\n"
	}
	out += humanize.Comma(int64(len(docs))) + " document(s)\n"
	return out
}

// Stats formats an elapsed duration as a human-readable relative time
// for shell display.
func Stats(elapsed time.Duration) string {
	return "elapsed: " + humanize.RelTime(time.Now().Add(-elapsed), time.Now(), "ago", "from now")
}
