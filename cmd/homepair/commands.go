package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"homepair-go/internal/api"
	"homepair-go/internal/app"
	"homepair-go/internal/config"
	"homepair-go/internal/recurrence"
	"homepair-go/internal/worker"
)

const usage = `usage: homepair [--config FILE] COMMAND [ARGS]

commands:
  login --email EMAIL [--password PASSWORD]
  logout
  whoami
  tasks list
  tasks add TITLE [--notes TEXT] [--due YYYY-MM-DD] [--repeat KIND] [--days MO,WE]
  tasks done ID...
  tasks rm ID...
  shopping list
  shopping add NAME [--qty QUANTITY]
  shopping check ID... [--uncheck]
  shopping rm ID...
`

// cli carries the state shared by every subcommand.
type cli struct {
	app   *app.Application
	stdin io.Reader
	out   io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	var configPath string
	flagSet := pflag.NewFlagSet("homepair", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a JSON config file")
	flagSet.Usage = func() { fmt.Fprint(stdout, usage) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	rest := flagSet.Args()
	if len(rest) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	application, err := app.New(cfg)
	if err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer application.Stop(context.Background())

	c := &cli{app: application, stdin: stdin, out: stdout}
	return c.dispatch(ctx, rest[0], rest[1:])
}

func (c *cli) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return c.login(ctx, args)
	case "logout":
		return c.logout(ctx)
	case "whoami":
		return c.whoami(ctx)
	case "tasks":
		return c.tasks(ctx, args)
	case "shopping":
		return c.shopping(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (c *cli) login(ctx context.Context, args []string) error {
	var email, password string
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	fs.StringVar(&email, "email", "", "account email")
	fs.StringVar(&password, "password", "", "account password (read from stdin when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if email == "" {
		return errors.New("login: --email is required")
	}
	if password == "" {
		line, err := bufio.NewReader(c.stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("login: failed to read password: %w", err)
		}
		password = strings.TrimSpace(line)
	}

	user, err := c.app.Login(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "signed in as %s <%s>\n", user.Name, user.Email)
	return nil
}

func (c *cli) logout(ctx context.Context) error {
	if err := c.app.Session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "signed out")
	return nil
}

func (c *cli) whoami(ctx context.Context) error {
	user, err := c.app.CurrentUser(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s <%s> (id %s", user.Name, user.Email, user.ID)
	if user.PartnerID != "" {
		fmt.Fprintf(c.out, ", partner %s", user.PartnerID)
	}
	fmt.Fprintln(c.out, ")")
	return nil
}

func (c *cli) tasks(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("tasks: missing subcommand")
	}
	switch args[0] {
	case "list":
		tasks, err := c.app.API.ListTasks(ctx)
		if err != nil {
			return err
		}
		return writeTasks(c.out, tasks)

	case "add":
		return c.addTask(ctx, args[1:])

	case "done":
		// Completing is not idempotent, so failures are never retried.
		return c.bulk(ctx, "tasks done", args[1:], false, func(ctx context.Context, id string) (string, error) {
			task, err := c.app.API.CompleteTask(ctx, id)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("completed %s %q", task.ID, task.Title), nil
		})

	case "rm":
		return c.bulk(ctx, "tasks rm", args[1:], true, func(ctx context.Context, id string) (string, error) {
			if err := c.app.API.DeleteTask(ctx, id); err != nil {
				return "", err
			}
			return "deleted " + id, nil
		})

	default:
		return fmt.Errorf("tasks: unknown subcommand %q", args[0])
	}
}

func (c *cli) addTask(ctx context.Context, args []string) error {
	var notes, due, repeat string
	var days []string
	fs := pflag.NewFlagSet("tasks add", pflag.ContinueOnError)
	fs.StringVar(&notes, "notes", "", "free-form notes")
	fs.StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	fs.StringVar(&repeat, "repeat", "", "none, daily, weekly, biweekly, monthly, bimonthly or custom")
	fs.StringSliceVar(&days, "days", nil, "weekdays for a custom repeat, e.g. MO,WE")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("tasks add: missing title")
	}

	rule, err := parseRule(repeat, days)
	if err != nil {
		return err
	}
	task := api.NewTask{
		Title:      strings.Join(fs.Args(), " "),
		Notes:      notes,
		Recurrence: rule,
	}
	if due != "" {
		d, err := time.ParseInLocation("2006-01-02", due, time.Local)
		if err != nil {
			return fmt.Errorf("tasks add: invalid --due: %w", err)
		}
		task.DueDate = &d
	}

	created, err := c.app.API.CreateTask(ctx, task)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "created %s %q (%s)\n", created.ID, created.Title, describeRule(created.Recurrence))
	return nil
}

// parseRule turns the --repeat and --days flags into a rule. Days alone, or
// days with a weekly repeat, mean a custom repeat on those days.
func parseRule(repeat string, days []string) (recurrence.Rule, error) {
	kind := recurrence.KindNone
	if repeat != "" {
		k, err := recurrence.ParseKind(repeat)
		if err != nil {
			return recurrence.Rule{}, err
		}
		kind = k
	}
	if len(days) > 0 && (repeat == "" || kind == recurrence.KindWeekly) {
		kind = recurrence.KindCustom
	}

	if kind != recurrence.KindCustom {
		if len(days) > 0 {
			return recurrence.Rule{}, fmt.Errorf("--days only applies to weekly or custom repeats, not %s", kind)
		}
		return recurrence.NewRule(kind), nil
	}

	if len(days) == 0 {
		return recurrence.Rule{}, errors.New("a custom repeat needs --days")
	}
	weekdays := make([]recurrence.Weekday, 0, len(days))
	for _, d := range days {
		w, err := recurrence.ParseWeekday(d)
		if err != nil {
			return recurrence.Rule{}, err
		}
		weekdays = append(weekdays, w)
	}
	return recurrence.NewRule(recurrence.KindCustom, weekdays...), nil
}

func describeRule(r recurrence.Rule) string {
	if r.Kind == recurrence.KindCustom && len(r.ByDays) > 0 {
		days := make([]string, len(r.ByDays))
		for i, d := range r.ByDays {
			days[i] = string(d)
		}
		return "custom " + strings.Join(days, ",")
	}
	if r.IsNone() {
		return "once"
	}
	return r.Kind.String()
}

func writeTasks(out io.Writer, tasks []api.Task) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDONE\tTITLE\tDUE\tREPEATS")
	for _, t := range tasks {
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.Format("2006-01-02")
		}
		done := " "
		if t.Completed {
			done = "x"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, done, t.Title, due, describeRule(t.Recurrence))
	}
	return tw.Flush()
}

func (c *cli) shopping(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("shopping: missing subcommand")
	}
	switch args[0] {
	case "list":
		items, err := c.app.API.ListShoppingItems(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tGOT\tITEM\tQTY")
		for _, item := range items {
			got := " "
			if item.Checked {
				got = "x"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.ID, got, item.Name, item.Quantity)
		}
		return tw.Flush()

	case "add":
		var qty string
		fs := pflag.NewFlagSet("shopping add", pflag.ContinueOnError)
		fs.StringVar(&qty, "qty", "", "quantity")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() == 0 {
			return errors.New("shopping add: missing item name")
		}
		item, err := c.app.API.AddShoppingItem(ctx, api.NewShoppingItem{Name: strings.Join(fs.Args(), " "), Quantity: qty})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "added %s %q\n", item.ID, item.Name)
		return nil

	case "check":
		var uncheck bool
		fs := pflag.NewFlagSet("shopping check", pflag.ContinueOnError)
		fs.BoolVar(&uncheck, "uncheck", false, "mark the item as not yet bought")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return c.bulk(ctx, "shopping check", fs.Args(), true, func(ctx context.Context, id string) (string, error) {
			item, err := c.app.API.SetShoppingItemChecked(ctx, id, !uncheck)
			if err != nil {
				return "", err
			}
			state := "checked"
			if !item.Checked {
				state = "unchecked"
			}
			return fmt.Sprintf("%s %s %q", state, item.ID, item.Name), nil
		})

	case "rm":
		return c.bulk(ctx, "shopping rm", args[1:], true, func(ctx context.Context, id string) (string, error) {
			if err := c.app.API.DeleteShoppingItem(ctx, id); err != nil {
				return "", err
			}
			return "deleted " + id, nil
		})

	default:
		return fmt.Errorf("shopping: unknown subcommand %q", args[0])
	}
}

// bulkWorkers bounds the requests in flight for a multi-ID command.
const bulkWorkers = 4

// bulk applies op to every ID concurrently and prints one line per ID in
// argument order. Idempotent operations retry transport failures.
func (c *cli) bulk(ctx context.Context, command string, ids []string, idempotent bool, op func(ctx context.Context, id string) (string, error)) error {
	if len(ids) == 0 {
		return fmt.Errorf("%s: expected at least one ID", command)
	}

	lines := make([]string, len(ids))
	tasks := make([]worker.Task, len(ids))
	for i, id := range ids {
		tasks[i] = worker.TaskFunc(func(ctx context.Context) error {
			line, err := op(ctx, id)
			lines[i] = line
			return err
		})
	}

	var configure []func(*worker.WorkerPool)
	if idempotent {
		configure = append(configure, func(p *worker.WorkerPool) {
			p.SetRetryPolicy(2, isTransient, 200*time.Millisecond)
		})
	}
	errs, stats := worker.Run(ctx, bulkWorkers, tasks, configure...)

	var failed []error
	for i, err := range errs {
		if err != nil {
			fmt.Fprintf(c.out, "%s: %v\n", ids[i], err)
			failed = append(failed, err)
			continue
		}
		fmt.Fprintln(c.out, lines[i])
	}

	if stats.Retries > 0 {
		c.app.Logger.Printf("%s: %d request(s) retried", command, stats.Retries)
	}
	if stats.DeadLetters > 0 {
		return fmt.Errorf("%s: %d of %d failed: %w", command, stats.DeadLetters, stats.Submitted, errors.Join(failed...))
	}
	return nil
}

// isTransient reports whether a request failed before reaching the server
// for a reason other than cancellation.
func isTransient(err error) bool {
	var transportErr *api.TransportError
	return errors.As(err, &transportErr) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
