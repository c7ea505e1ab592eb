package actions

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// Opener hands a URI to the platform.
type Opener interface {
	Open(ctx context.Context, uri string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, uri string) error

func (f OpenerFunc) Open(ctx context.Context, uri string) error { return f(ctx, uri) }

// CommandOpener opens a URI by starting an external program with the URI
// as its last argument.
type CommandOpener struct {
	Name string
	Args []string
}

func (o CommandOpener) Open(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := exec.LookPath(o.Name)
	if err != nil {
		return fmt.Errorf("%s: %w", o.Name, err)
	}
	args := append(append([]string(nil), o.Args...), uri)
	// Not bound to ctx: the handler must outlive the dispatch.
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", o.Name, err)
	}
	// Reap the child; openers hand off and exit.
	go cmd.Wait()
	return nil
}

// DefaultOpeners returns the opener chain for the running OS, tried in order.
func DefaultOpeners() []Opener {
	switch runtime.GOOS {
	case "darwin":
		return []Opener{CommandOpener{Name: "open"}}
	case "windows":
		return []Opener{
			CommandOpener{Name: "rundll32", Args: []string{"url.dll,FileProtocolHandler"}},
			CommandOpener{Name: "cmd", Args: []string{"/c", "start", ""}},
		}
	default:
		return []Opener{
			CommandOpener{Name: "xdg-open"},
			CommandOpener{Name: "gio", Args: []string{"open"}},
			CommandOpener{Name: "sensible-browser"},
		}
	}
}

func validateURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse uri: %w", err)
	}
	if u.Scheme == "" {
		return errors.New("uri has no scheme")
	}
	return nil
}

// Open validates uri and tries each opener in order until one succeeds.
func Open(ctx context.Context, openers []Opener, uri string) error {
	if err := validateURI(uri); err != nil {
		return err
	}
	if len(openers) == 0 {
		return errors.New("no uri openers configured")
	}
	var errs []error
	for _, o := range openers {
		err := o.Open(ctx, uri)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
