// Package sshpool is the Remote Shell Executor Pool (C2): a bounded,
// LRU-reaped cache of authenticated SSH connections to Proxmox nodes, used
// for operations the REST API doesn't expose directly (privileged qm
// commands, disk image staging, cross-node hops).
//
// Connection setup uses key-based auth, an explicit dial timeout, and
// host-key handling appropriate to a private lab network.
package sshpool

import (
	"bytes"
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
)

// Config configures the pool's capacity and idle-reaping behavior.
type Config struct {
	User        string
	Signer      ssh.Signer
	MaxSessions int
	IdleTimeout time.Duration
	DialTimeout time.Duration
}

type entry struct {
	key       string
	client    *ssh.Client
	lastUsed  time.Time
	listElem  *list.Element
}

// Pool manages authenticated SSH connections keyed by "host:port".
type Pool struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently used

	stopCh chan struct{}

	created atomic.Int64
	reused  atomic.Int64
	closed  atomic.Int64
	dropped atomic.Int64
}

// New creates a pool and starts its idle-reaping goroutine.
func New(cfg Config) *Pool {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 50
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	p := &Pool{
		cfg:     cfg,
		entries: make(map[string]*entry),
		lru:     list.New(),
		stopCh:  make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		if time.Since(e.lastUsed) > p.cfg.IdleTimeout {
			e.client.Close()
			p.lru.Remove(e.listElem)
			delete(p.entries, key)
			p.closed.Add(1)
			log.Debug().Str("component", "sshpool").Str("action", "idle_reaped").Str("host", key).Msg("closed idle ssh session")
		}
	}
}

// Stop closes every pooled connection and halts the reaper.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		e.client.Close()
	}
	p.entries = make(map[string]*entry)
	p.lru.Init()
}

// get returns a live client for host:port, reusing a pooled connection
// when possible and probing liveness with a lightweight keepalive request
// before handing it back.
func (p *Pool) get(ctx context.Context, addr string) (*ssh.Client, error) {
	p.mu.Lock()
	if e, ok := p.entries[addr]; ok {
		p.lru.MoveToFront(e.listElem)
		e.lastUsed = time.Now()
		p.mu.Unlock()
		if _, _, err := e.client.SendRequest("keepalive@vmlab", true, nil); err == nil {
			p.reused.Add(1)
			return e.client, nil
		}
		p.mu.Lock()
		p.removeLocked(addr)
	}
	p.mu.Unlock()

	client, err := p.dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) >= p.cfg.MaxSessions {
		p.evictOldestLocked()
	}
	e := &entry{key: addr, client: client, lastUsed: time.Now()}
	e.listElem = p.lru.PushFront(e)
	p.entries[addr] = e
	p.created.Add(1)
	return client, nil
}

func (p *Pool) removeLocked(addr string) {
	if e, ok := p.entries[addr]; ok {
		p.lru.Remove(e.listElem)
		delete(p.entries, addr)
		p.closed.Add(1)
	}
}

func (p *Pool) evictOldestLocked() {
	back := p.lru.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	e.client.Close()
	p.lru.Remove(back)
	delete(p.entries, e.key)
	p.dropped.Add(1)
	log.Debug().Str("component", "sshpool").Str("action", "evicted").Str("host", e.key).Msg("evicted ssh session to respect pool cap")
}

func (p *Pool) dial(ctx context.Context, addr string) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            p.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(p.cfg.Signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.cfg.DialTimeout,
	}
	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, config)
		ch <- result{c, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, apierr.ClusterUnreachablef(r.err, "dialing ssh %s", addr)
		}
		return r.client, nil
	}
}

// Result captures one command's combined output and exit status.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Execute runs a command on the node at host:port, optionally erroring on
// non-zero exit. A zero timeout means no deadline beyond the context's own.
func (p *Pool) Execute(ctx context.Context, addr, cmd string, timeout time.Duration, check bool) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client, err := p.get(ctx, addr)
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, apierr.ClusterUnreachablef(err, "opening ssh session on %s", addr)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return Result{}, apierr.ClusterUnreachablef(ctx.Err(), "command timed out on %s: %s", addr, cmd)
	case runErr := <-done:
		code := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				code = exitErr.ExitStatus()
			} else {
				return Result{}, apierr.CommandFailedf(runErr, "running command on %s: %s", addr, cmd)
			}
		}
		res := Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: code}
		if check && code != 0 {
			return res, apierr.CommandFailedf(fmt.Errorf("exit status %d: %s", code, strings.TrimSpace(stderr.String())),
				"command failed on %s: %s", addr, cmd)
		}
		return res, nil
	}
}

// ExecuteViaHop runs a command on a second node by tunneling through an
// already-established SSH session on the first, for clusters where only
// one node is directly reachable from the orchestrator.
func (p *Pool) ExecuteViaHop(ctx context.Context, hopAddr, targetHost, cmd string, timeout time.Duration, check bool) (Result, error) {
	tunneled := fmt.Sprintf("ssh -o StrictHostKeyChecking=no %s %q", targetHost, cmd)
	return p.Execute(ctx, hopAddr, tunneled, timeout, check)
}

// Stats reports pool utilization counters.
type Stats struct {
	Created     int64
	Reused      int64
	Closed      int64
	Dropped     int64
	Active      int
	Utilization float64
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	active := len(p.entries)
	p.mu.Unlock()
	util := 0.0
	if p.cfg.MaxSessions > 0 {
		util = float64(active) / float64(p.cfg.MaxSessions) * 100
	}
	return Stats{
		Created:     p.created.Load(),
		Reused:      p.reused.Load(),
		Closed:      p.closed.Load(),
		Dropped:     p.dropped.Load(),
		Active:      active,
		Utilization: util,
	}
}
