package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/tagline/internal/domain"
	"github.com/mmcdole/tagline/internal/savedlist"
	"github.com/mmcdole/tagline/internal/tmdb"
)

const commandTimeout = 30 * time.Second

const helpText = `Commands:
  type <text>              feed text to the search box (debounced)
  search <text>            search now
  save <n>                 save result n of the last search
  details <movie|tv> <id>  show details
  providers <movie|tv> <id> [country]
  genres [movie|tv]        list genres
  history                  recent searches
  suggest <prefix>         matching recent searches
  forget <text>            drop a recent search
  list [movie|tv]          show your saved list
  find <text>              fuzzy match titles in your saved list
  remove <doc-id>          remove a saved item
  watched <doc-id> on|off  mark a saved item
  reconcile                collapse duplicate saved items
  sweep                    drop expired detail cache entries
  clear                    empty the detail cache
  help
  quit`

// console is the line-oriented front end. Search results arrive
// asynchronously and are printed by a separate goroutine.
type console struct {
	app *app
	out io.Writer

	mu   sync.Mutex
	last []domain.SearchResult
}

// Run reads commands until quit or EOF
func (a *app) Run(in io.Reader, out io.Writer) {
	c := &console{app: a, out: out}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.printResults()
	}()
	defer func() {
		// No search may emit once the channel is closed
		a.dispatch.Close()
		close(a.results)
		<-done
	}()

	fmt.Fprintln(out, "tagline: type 'help' for commands")
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "> ")
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			if !c.exec(line) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *console) printResults() {
	for r := range c.app.results {
		switch {
		case r.Cleared:
			c.setLast(nil)
		case r.Err != nil:
			c.printErr(r.Err)
		default:
			c.setLast(r.Page.Results)
			fmt.Fprintf(c.out, "\n%d results for %q\n", r.Page.TotalResults, r.Query)
			for i, res := range r.Page.Results {
				fmt.Fprintf(c.out, "  %2d. [%s] %s", i+1, res.Kind, res.Title)
				if y := res.Year(); y != "" {
					fmt.Fprintf(c.out, " (%s)", y)
				}
				fmt.Fprintf(c.out, "  ★ %.1f  id=%d\n", res.VoteAverage, res.SourceID)
			}
		}
	}
}

func (c *console) setLast(results []domain.SearchResult) {
	c.mu.Lock()
	c.last = results
	c.mu.Unlock()
}

func (c *console) result(n int) (domain.SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > len(c.last) {
		return domain.SearchResult{}, false
	}
	return c.last[n-1], true
}

// exec runs one command line and returns false on quit
func (c *console) exec(line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch strings.ToLower(cmd) {
	case "quit", "exit", "q":
		return false
	case "help", "?":
		fmt.Fprintln(c.out, helpText)
	case "type":
		c.app.dispatch.Type(rest)
	case "search":
		err = c.app.dispatch.Submit(rest)
	case "save":
		err = c.save(ctx, args)
	case "details":
		err = c.details(ctx, args)
	case "providers":
		err = c.providers(ctx, args)
	case "genres":
		err = c.genres(ctx, args)
	case "history":
		err = c.history()
	case "suggest":
		err = c.suggest(rest)
	case "forget":
		err = c.app.history.Forget(rest)
	case "list":
		err = c.list(ctx, args, "")
	case "find":
		err = c.list(ctx, nil, rest)
	case "remove":
		if len(args) != 1 {
			err = errUsage
			break
		}
		err = c.app.saved.Remove(ctx, args[0])
	case "watched":
		err = c.watched(ctx, args)
	case "reconcile":
		var n int
		if n, err = c.app.saved.Reconcile(ctx); err == nil {
			fmt.Fprintf(c.out, "removed %d duplicates\n", n)
		}
	case "sweep":
		var n int
		if n, err = c.app.details.SweepExpired(ctx); err == nil {
			fmt.Fprintf(c.out, "removed %d expired entries\n", n)
		}
	case "clear":
		err = c.app.details.ClearAll()
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		c.printErr(err)
	}
	return true
}

var errUsage = errors.New("wrong arguments, see help")

func (c *console) printErr(err error) {
	switch domain.KindOf(err) {
	case domain.KindTransientNetwork:
		fmt.Fprintln(c.out, "offline:", err)
	case domain.KindUnauthenticated:
		fmt.Fprintln(c.out, "sign in first (session.user_id):", err)
	case domain.KindConflict:
		fmt.Fprintln(c.out, "already in your list")
	default:
		fmt.Fprintln(c.out, "error:", err)
	}
}

func parseKindID(args []string) (domain.MediaKind, int, error) {
	if len(args) < 2 {
		return 0, 0, errUsage
	}
	kind, ok := domain.ParseMediaKind(args[0])
	if !ok {
		return 0, 0, fmt.Errorf("unknown kind %q", args[0])
	}
	id, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid id %q", args[1])
	}
	return kind, id, nil
}

func parseKindFilter(args []string) (*domain.MediaKind, error) {
	if len(args) == 0 {
		return nil, nil
	}
	kind, ok := domain.ParseMediaKind(args[0])
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", args[0])
	}
	return &kind, nil
}

func (c *console) save(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	res, ok := c.result(n)
	if !ok {
		return fmt.Errorf("no result %d in the last search", n)
	}

	item := c.app.savedItem(ctx, res)
	id, err := c.app.saved.Add(ctx, item)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "saved %s as %s\n", item.Title, id)
	return nil
}

func (c *console) details(ctx context.Context, args []string) error {
	kind, id, err := parseKindID(args)
	if err != nil {
		return err
	}
	d, err := c.app.details.GetDetails(ctx, id, kind)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "%s", d.Title)
	if y := d.Year(); y != "" {
		fmt.Fprintf(c.out, " (%s)", y)
	}
	fmt.Fprintf(c.out, "  [%s]\n", d.Source)
	if d.Source == domain.SourceStale {
		fmt.Fprintf(c.out, "  offline copy from %s\n", d.CachedAt.Format(time.DateTime))
	}
	if d.Tagline != "" {
		fmt.Fprintf(c.out, "  %s\n", d.Tagline)
	}
	fmt.Fprintf(c.out, "  ★ %.1f (%d votes)\n", d.VoteAverage, d.VoteCount)
	if d.RuntimeMinutes != nil {
		fmt.Fprintf(c.out, "  %d min\n", *d.RuntimeMinutes)
	}
	if d.Kind == domain.MediaKindTV {
		fmt.Fprintf(c.out, "  %d seasons, %d episodes\n", d.SeasonCount, d.EpisodeCount)
	}
	if len(d.Genres) > 0 {
		fmt.Fprintf(c.out, "  %s\n", strings.Join(d.GenreNames(), ", "))
	}
	if d.PosterPath != "" {
		fmt.Fprintf(c.out, "  %s\n", tmdb.PosterURL(d.PosterPath, ""))
	}
	if d.Overview != "" {
		fmt.Fprintf(c.out, "\n%s\n", d.Overview)
	}

	saved, err := c.app.saved.Exists(ctx, d.SourceID, d.Kind)
	if err == nil && saved {
		fmt.Fprintln(c.out, "\n  ✓ in your list")
	}
	return nil
}

func (c *console) providers(ctx context.Context, args []string) error {
	kind, id, err := parseKindID(args)
	if err != nil {
		return err
	}
	country := ""
	if len(args) > 2 {
		country = args[2]
	}
	p, err := c.app.details.WatchProviders(ctx, id, kind, country)
	if err != nil {
		return err
	}
	if p.IsEmpty() {
		fmt.Fprintf(c.out, "no providers in %s\n", p.Country)
		return nil
	}
	groups := []struct {
		label     string
		providers []domain.WatchProvider
	}{
		{"stream", p.Flatrate},
		{"free", p.Free},
		{"rent", p.Rent},
		{"buy", p.Buy},
	}
	for _, g := range groups {
		if len(g.providers) == 0 {
			continue
		}
		names := make([]string, len(g.providers))
		for i, pr := range g.providers {
			names[i] = pr.Name
		}
		fmt.Fprintf(c.out, "  %-6s %s\n", g.label, strings.Join(names, ", "))
	}
	return nil
}

func (c *console) genres(ctx context.Context, args []string) error {
	kind, err := parseKindFilter(args)
	if err != nil {
		return err
	}
	var list []domain.Genre
	if kind != nil {
		list, err = c.app.genres.ByKind(ctx, *kind)
	} else {
		list, err = c.app.genres.All(ctx)
	}
	if err != nil {
		return err
	}
	for _, g := range list {
		fmt.Fprintf(c.out, "  %5d  %s\n", g.ID, g.Name)
	}
	return nil
}

func (c *console) history() error {
	entries, err := c.app.history.Recent(0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(c.out, "  %s  %s\n", e.SearchedAt().Format(time.DateTime), e.Query)
	}
	return nil
}

func (c *console) suggest(prefix string) error {
	entries, err := c.app.history.Suggest(prefix, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(c.out, "  %s\n", e.Query)
	}
	return nil
}

// list prints the first snapshot of the saved list
func (c *console) list(ctx context.Context, args []string, query string) error {
	kind, err := parseKindFilter(args)
	if err != nil {
		return err
	}
	feed, err := c.app.saved.Observe(ctx, kind)
	if err != nil {
		return err
	}
	defer feed.Close()

	var items []domain.SavedItem
	select {
	case snap, ok := <-feed.Updates():
		if !ok {
			if err := feed.Err(); err != nil {
				return err
			}
		}
		items = snap
	case <-ctx.Done():
		return ctx.Err()
	}

	items = savedlist.Filter(items, savedlist.Criteria{Query: query})
	if len(items) == 0 {
		fmt.Fprintln(c.out, "nothing saved")
		return nil
	}
	for _, it := range items {
		mark := " "
		if it.Watched {
			mark = "✓"
		}
		fmt.Fprintf(c.out, "  %s [%s] %s", mark, it.Kind, it.Title)
		if it.ReleaseYear != "" {
			fmt.Fprintf(c.out, " (%s)", it.ReleaseYear)
		}
		fmt.Fprintf(c.out, "  %s\n", it.ID)
	}
	return nil
}

func (c *console) watched(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	var on bool
	switch strings.ToLower(args[1]) {
	case "on", "yes", "true":
		on = true
	case "off", "no", "false":
	default:
		return errUsage
	}
	return c.app.saved.SetWatched(ctx, args[0], on)
}
