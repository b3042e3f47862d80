package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/synergy/internal/wsclient"
)

type masterFlags struct {
	url     string
	aid     string
	timeout time.Duration
}

func newMasterCmd() *cobra.Command {
	flags := &masterFlags{}

	cmd := &cobra.Command{
		Use:   "master",
		Short: "Manage rooms over the master control channel",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.url, "url", "ws://localhost:4545/master", "master channel address")
	pf.StringVar(&flags.aid, "aid", "", "identifier with Synergy.canBeMaster")
	pf.DurationVar(&flags.timeout, "timeout", 5*time.Second, "timeout for the whole command")
	_ = cmd.MarkPersistentFlagRequired("aid")

	var isDefault bool
	createRoom := &cobra.Command{
		Use:   "create-room NAME",
		Short: "Create or reset a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, func(ctx context.Context, m *wsclient.Master) error {
				return m.CreateRoom(ctx, args[0], isDefault)
			})
		},
	}
	createRoom.Flags().BoolVar(&isDefault, "default", false, "join every authenticating client to the room")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "rooms",
			Short: "List rooms",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return flags.run(cmd, nil)
			},
		},
		createRoom,
		&cobra.Command{
			Use:   "add ROOM AID",
			Short: "Add an identifier to a room",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return flags.run(cmd, func(ctx context.Context, m *wsclient.Master) error {
					return m.AddToRoom(ctx, args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "remove ROOM AID",
			Short: "Remove an identifier from a room",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return flags.run(cmd, func(ctx context.Context, m *wsclient.Master) error {
					return m.RemoveFromRoom(ctx, args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "delete ROOM",
			Short: "Delete a room",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return flags.run(cmd, func(ctx context.Context, m *wsclient.Master) error {
					return m.DeleteRoom(ctx, args[0])
				})
			},
		},
	)
	return cmd
}

// run registers, applies op and prints the resulting room list. The
// trailing room_list also confirms the server processed op.
func (f *masterFlags) run(cmd *cobra.Command, op func(context.Context, *wsclient.Master) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()

	m, err := wsclient.DialMaster(ctx, f.url)
	if err != nil {
		return err
	}
	defer m.Close()

	ok, err := m.Register(ctx, f.aid)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("master registration refused")
	}

	if op != nil {
		if err := op(ctx, m); err != nil {
			return err
		}
	}

	rooms, err := m.Rooms(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, room := range rooms {
		fmt.Fprintln(out, room)
	}
	return nil
}
