package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatModel "github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/service/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/service/orchestrator"
	"github.com/zhouzirui/z-tavern/salesbot/internal/store"
)

func TestRunServerStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestUnavailableStepperYieldsApology(t *testing.T) {
	repo := store.NewMemory(0)
	svc := chat.NewService(repo, repo, unavailableStepper{}, chat.Options{})

	reply, err := svc.HandleTurn(context.Background(), "s1", "привет")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ApologyText, reply.Answer)
	assert.Equal(t, chatModel.StageAdmin, reply.Stage)
}
