// Package interactive provides the interactive command-line interface
// for gattlink.
package interactive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/smartthermostat/gattlink/pkg/gatt"
	"github.com/smartthermostat/gattlink/pkg/sequencer"
	"github.com/smartthermostat/gattlink/pkg/session"
)

// DefaultWaitTimeout bounds how long a command waits for its operation.
const DefaultWaitTimeout = 30 * time.Second

// Session is the part of session.Session the console drives.
type Session interface {
	RequestConnect() error
	RequestDisconnect() error
	RequestRead(attr gatt.AttributeID) (*sequencer.Pending, error)
	RequestWrite(attr gatt.AttributeID, payload []byte, mode gatt.WriteMode) (*sequencer.Pending, error)
	RequestSetNotify(attr gatt.AttributeID, enable bool) (*sequencer.Pending, error)
	Status() (session.Status, error)
	Subscriptions() []gatt.AttributeID
	Values() map[gatt.AttributeID]float64
	Catalog() *gatt.Catalog
}

var _ Session = (*session.Session)(nil)

// Console handles interactive mode for gattlink.
type Console struct {
	sess    Session
	rl      *readline.Instance
	out     io.Writer
	timeout time.Duration
}

// New creates a readline-backed console.
func New(sess Session) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gattlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := newConsole(sess, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(sess Session, out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{sess: sess, out: out, timeout: DefaultWaitTimeout}
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.Execute(ctx, line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the console should
// exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "connect", "c":
		c.cmdConnect()

	case "disconnect", "d":
		c.cmdDisconnect()

	case "read", "r":
		c.cmdRead(ctx, args)

	case "write", "w":
		c.cmdWrite(ctx, args)

	case "notify", "n":
		c.cmdNotify(ctx, args)

	case "status":
		c.cmdStatus()

	case "subs":
		c.cmdSubs()

	case "values", "v":
		c.cmdValues()

	case "catalog", "ls":
		c.cmdCatalog()

	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
gattlink Commands:
  Connection:
    connect                            - Connect to the peripheral
    disconnect                         - Disconnect from the peripheral
    status                             - Show connection and queue status

  Operations:
    read <attr>                        - Read a characteristic
    write <attr> <hex> [mode]          - Write a characteristic (mode: default, noresp, signed)
    notify <attr> on|off               - Enable or disable notifications

  Inspection:
    catalog                            - List discovered characteristics
    subs                               - List active subscriptions
    values                             - Show last decoded values

  General:
    help                               - Show this help
    quit                               - Exit

  Attributes are 16-bit ("2a6e") or full 128-bit UUIDs.`)
}

func (c *Console) cmdConnect() {
	if err := c.sess.RequestConnect(); err != nil {
		fmt.Fprintf(c.out, "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Connecting...")
}

func (c *Console) cmdDisconnect() {
	if err := c.sess.RequestDisconnect(); err != nil {
		fmt.Fprintf(c.out, "Disconnect failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Disconnected")
}

func (c *Console) cmdRead(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: read <attr>")
		return
	}
	attr, ok := c.parseAttr(args[0])
	if !ok {
		return
	}
	p, err := c.sess.RequestRead(attr)
	if err != nil {
		fmt.Fprintf(c.out, "Read rejected: %v\n", err)
		return
	}
	res, ok := c.wait(ctx, p)
	if !ok {
		return
	}
	fmt.Fprintf(c.out, "%s = %s (%d bytes, %d attempt(s))\n", attr.Short(), hex.EncodeToString(res.Value), len(res.Value), res.Attempts)
}

func (c *Console) cmdWrite(ctx context.Context, args []string) {
	if len(args) < 2 || len(args) > 3 {
		fmt.Fprintln(c.out, "Usage: write <attr> <hex> [default|noresp|signed]")
		return
	}
	attr, ok := c.parseAttr(args[0])
	if !ok {
		return
	}
	payload, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(args[1]), "0x"))
	if err != nil {
		fmt.Fprintf(c.out, "Invalid hex payload: %v\n", err)
		return
	}
	mode := gatt.WriteDefault
	if len(args) == 3 {
		mode, err = gatt.ParseWriteMode(args[2])
		if err != nil {
			fmt.Fprintf(c.out, "Invalid write mode: %v\n", err)
			return
		}
	}

	p, err := c.sess.RequestWrite(attr, payload, mode)
	if err != nil {
		fmt.Fprintf(c.out, "Write rejected: %v\n", err)
		return
	}
	if res, ok := c.wait(ctx, p); ok {
		fmt.Fprintf(c.out, "Wrote %d bytes to %s (%d attempt(s))\n", len(payload), attr.Short(), res.Attempts)
	}
}

func (c *Console) cmdNotify(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "Usage: notify <attr> on|off")
		return
	}
	attr, ok := c.parseAttr(args[0])
	if !ok {
		return
	}
	var enable bool
	switch strings.ToLower(args[1]) {
	case "on", "true", "1":
		enable = true
	case "off", "false", "0":
	default:
		fmt.Fprintf(c.out, "Expected on or off, got %q\n", args[1])
		return
	}

	p, err := c.sess.RequestSetNotify(attr, enable)
	if err != nil {
		fmt.Fprintf(c.out, "Subscription rejected: %v\n", err)
		return
	}
	if _, ok := c.wait(ctx, p); ok {
		state := "disabled"
		if enable {
			state = "enabled"
		}
		fmt.Fprintf(c.out, "Notifications %s for %s\n", state, attr.Short())
	}
}

func (c *Console) cmdStatus() {
	st, err := c.sess.Status()
	if err != nil {
		fmt.Fprintf(c.out, "Status unavailable: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "\nSession Status:")
	fmt.Fprintln(c.out, "-------------------------------------------")
	fmt.Fprintf(c.out, "  State:           %s\n", st.State)
	fmt.Fprintf(c.out, "  Bond:            %s\n", st.Bond)
	fmt.Fprintf(c.out, "  Queue:           %s (%d pending)\n", st.QueueState, st.Pending)
	fmt.Fprintf(c.out, "  Characteristics: %d\n", st.Characteristics)
	fmt.Fprintf(c.out, "  Subscriptions:   %d\n", len(st.Subscriptions))
}

func (c *Console) cmdSubs() {
	subs := c.sess.Subscriptions()
	if len(subs) == 0 {
		fmt.Fprintln(c.out, "No active subscriptions")
		return
	}
	fmt.Fprintf(c.out, "Active subscriptions (%d):\n", len(subs))
	for _, id := range subs {
		fmt.Fprintf(c.out, "  %s\n", id.Short())
	}
}

func (c *Console) cmdValues() {
	values := c.sess.Values()
	if len(values) == 0 {
		fmt.Fprintln(c.out, "No values yet")
		return
	}
	ids := make([]gatt.AttributeID, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(c.out, "  %s = %.2f\n", id.Short(), values[id])
	}
}

func (c *Console) cmdCatalog() {
	catalog := c.sess.Catalog()
	if catalog.Len() == 0 {
		fmt.Fprintln(c.out, "No characteristics discovered (not connected?)")
		return
	}
	fmt.Fprintf(c.out, "Characteristics (%d):\n", catalog.Len())
	for _, ch := range catalog.Characteristics() {
		ccc := ""
		if ch.HasClientConfig {
			ccc = " [ccc]"
		}
		fmt.Fprintf(c.out, "  %s  service %s  %s%s\n", ch.ID.Short(), ch.Service.Short(), ch.Properties, ccc)
	}
}

func (c *Console) parseAttr(s string) (gatt.AttributeID, bool) {
	attr, err := gatt.ParseAttributeID(s)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid attribute: %v\n", err)
		return "", false
	}
	return attr, true
}

func (c *Console) wait(ctx context.Context, p *sequencer.Pending) (sequencer.Result, bool) {
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := p.Wait(waitCtx)
	switch {
	case err == nil:
		return res, true
	case errors.Is(err, context.DeadlineExceeded):
		fmt.Fprintln(c.out, "Still pending; check 'status' later")
	default:
		fmt.Fprintf(c.out, "Failed after %d attempt(s): %v\n", res.Attempts, err)
	}
	return res, false
}
