package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Ankesh2004/go-fetch/internal/client"
	"github.com/Ankesh2004/go-fetch/internal/server"
	"github.com/spf13/cobra"
)

const (
	minPort = 1024
	maxPort = 64000
)

// parsePort accepts only ports in 1024-64000 inclusive.
func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port number must be an integer, got %q", s)
	}
	if port < minPort || port > maxPort {
		return 0, fmt.Errorf("port number must be in range %d-%d inclusive, got %d", minPort, maxPort, port)
	}
	return port, nil
}

func newServeCmd() *cobra.Command {
	var (
		dir      string
		bind     string
		timeout      time.Duration
		writeTimeout time.Duration
		maxConns     int
	)
	cmd := &cobra.Command{
		Use:   "serve <port>",
		Short: "Serve files to requesters, one file per connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[0])
			if err != nil {
				return err
			}
			if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}

			s := server.NewFileServer(server.FileServerOptions{
				ListenAddr:     net.JoinHostPort(bind, strconv.Itoa(port)),
				RootDir:        dir,
				RequestTimeout: timeout,
				WriteTimeout:   writeTimeout,
				MaxConns:       maxConns,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := s.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted, CONNECTION CLOSED")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to serve files from")
	cmd.Flags().StringVar(&bind, "bind", "127.0.0.1", "address to listen on")
	cmd.Flags().DurationVar(&timeout, "timeout", server.DefaultRequestTimeout, "time a client has to send its request")
	cmd.Flags().DurationVar(&writeTimeout, "write-timeout", 0, "time a client may stall the response before it is dropped (default --timeout)")
	cmd.Flags().IntVar(&maxConns, "max-conns", server.DefaultMaxConns, "connections served at once (negative for no cap)")
	return cmd
}

func newGetCmd() *cobra.Command {
	var (
		dir            string
		connectTimeout time.Duration
		timeout        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "get <host> <port> <filename>",
		Short: "Fetch one file from a holder",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, filename := args[0], args[2]
			port, err := parsePort(args[1])
			if err != nil {
				return err
			}

			c := client.NewClient(client.ClientOptions{
				Addr:           net.JoinHostPort(host, strconv.Itoa(port)),
				OutputDir:      dir,
				ConnectTimeout: connectTimeout,
				ReceiveTimeout: timeout,
			})
			// everything local is settled before a socket is opened
			if err := c.Check(filename); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
				return fmt.Errorf("invalid IP address or host name %q", host)
			}

			res, err := c.Fetch(ctx, filename)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return errors.New("interrupted, transfer aborted")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d bytes received. Written to file '%s'\n", res.Received, res.Filename)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to write the fetched file into")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", client.DefaultConnectTimeout, "time allowed to establish the connection")
	cmd.Flags().DurationVar(&timeout, "timeout", client.DefaultReceiveTimeout, "time allowed between received chunks")
	return cmd
}
