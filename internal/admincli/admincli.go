// Package admincli implements operator commands that act on identities
// directly against the credential store, outside the HTTP surface.
package admincli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"samadhan/internal/models"
)

// Accounts is the slice of the identity service the commands need.
type Accounts interface {
	LookupContact(ctx context.Context, contact string) (*models.Identity, error)
	SetRole(ctx context.Context, id string, role models.Role) (*models.Identity, error)
	BanIdentity(ctx context.Context, id, reason string) (*models.Identity, error)
	UnbanIdentity(ctx context.Context, id string) (*models.Identity, error)
}

var ErrUsage = errors.New("usage: samadhanctl [-config path] <promote|demote|ban|unban> [-reason text] <email-or-phone>")

// Run executes one command. args starts at the command name.
func Run(ctx context.Context, accounts Accounts, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}

	cmd := args[0]
	switch cmd {
	case "promote", "demote", "ban", "unban":
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, ErrUsage)
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	reason := fs.String("reason", "", "ban reason shown to the banned user")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if fs.NArg() != 1 {
		return ErrUsage
	}

	found, err := accounts.LookupContact(ctx, fs.Arg(0))
	if err != nil {
		return fmt.Errorf("looking up %s: %w", fs.Arg(0), err)
	}

	var ident *models.Identity
	switch cmd {
	case "promote":
		ident, err = accounts.SetRole(ctx, found.ID, models.RoleAdmin)
	case "demote":
		ident, err = accounts.SetRole(ctx, found.ID, models.RoleCitizen)
	case "ban":
		ident, err = accounts.BanIdentity(ctx, found.ID, *reason)
	case "unban":
		ident, err = accounts.UnbanIdentity(ctx, found.ID)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", cmd, found.ID, err)
	}

	fmt.Fprintf(out, "%s\trole=%s\tbanned=%t\n", ident.ID, ident.Role, ident.IsBanned)
	return nil
}
