package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mwantia/datenest/internal/library"
	"github.com/spf13/cobra"

	config "github.com/mwantia/datenest/internal/config/library"
)

// WithLibrary loads the configuration, opens the library and closes it
// again once fn returns.
func WithLibrary(cmd *cobra.Command, fn func(ctx context.Context, lib *library.Library) error) (err error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load library configuration: %w", err)
	}

	ctx := cmd.Context()
	lib, err := library.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, lib.Close(context.Background()))
	}()

	return fn(ctx, lib)
}

// ParseImageID accepts a numeric image id, optionally prefixed with '#'.
func ParseImageID(arg string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(arg), "#"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid image id '%s'", arg)
	}
	return uint(id), nil
}

// ParseImageIDs parses every argument with ParseImageID.
func ParseImageIDs(args []string) ([]uint, error) {
	ids := make([]uint, 0, len(args))
	for _, arg := range args {
		id, err := ParseImageID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
