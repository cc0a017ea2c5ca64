//go:build linux

package reactor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/xtaci/goreactor/internal/asynclog"
	"github.com/xtaci/goreactor/internal/config"
	"github.com/xtaci/goreactor/internal/dbpool"
	"github.com/xtaci/goreactor/internal/httpconn"
	"github.com/xtaci/goreactor/internal/timerwheel"
	"github.com/xtaci/goreactor/internal/workerpool"
)

// Server is the reactor: the single event-loop goroutine plus the
// collaborators it owns: the worker pool, the timer heap, the DB pool,
// and the log sink. It is the sole owner of every Conn it holds: workers
// only ever touch a Conn while its Busy flag is set, and only after a
// task finishes does fd interest flip. That mask transition is the
// happens-before edge between reactor and worker.
type Server struct {
	cfg config.Config

	pfd      *poller
	listenFD int

	conns   map[int]*httpconn.Conn
	connsMu sync.Mutex // guards conns map membership only, not Conn bodies

	timers  *timerwheel.Heap
	workers *workerpool.Pool
	db      *dbpool.Pool
	log     *asynclog.Logger

	userCount atomic.Int64
	stopping  atomic.Bool
	stopped   chan struct{}
}

// New wires up every collaborator but does not start serving; call Run.
func New(cfg config.Config) (*Server, error) {
	srcDir, err := filepath.Abs(cfg.SrcDir)
	if err != nil {
		return nil, fmt.Errorf("reactor: resolve srcdir %q: %w", cfg.SrcDir, err)
	}
	cfg.SrcDir = srcDir

	pfd, err := newPoller()
	if err != nil {
		return nil, err
	}

	listenFD, err := newListenSocket(cfg.Port, cfg.OptLinger, 6)
	if err != nil {
		pfd.close()
		return nil, err
	}
	if err := pfd.add(listenFD, evRead, cfg.TrigMode.ListenEdgeTriggered()); err != nil {
		unix.Close(listenFD)
		pfd.close()
		return nil, fmt.Errorf("reactor: register listen fd: %w", err)
	}

	workers, err := workerpool.New(cfg.ThreadNum)
	if err != nil {
		unix.Close(listenFD)
		pfd.close()
		return nil, err
	}

	var logger *asynclog.Logger
	if cfg.Log.Enabled {
		logger, err = asynclog.Init(asynclog.Level(cfg.Log.Level), cfg.Log.Dir, cfg.Log.Suffix, cfg.Log.AsyncQueueCap)
		if err != nil {
			workers.Close()
			unix.Close(listenFD)
			pfd.close()
			return nil, err
		}
	}

	var db *dbpool.Pool
	if cfg.DB.PoolSize > 0 {
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.DBName)
		db, err = dbpool.New(context.Background(), dsn, cfg.DB.PoolSize)
		if err != nil {
			if logger != nil {
				logger.Errorf("db pool init failed: %v", err)
			}
			workers.Close()
			unix.Close(listenFD)
			pfd.close()
			return nil, err
		}
	}

	return &Server{
		cfg:      cfg,
		pfd:      pfd,
		listenFD: listenFD,
		conns:    make(map[int]*httpconn.Conn),
		timers:   timerwheel.New(cfg.PollTimeout),
		workers:  workers,
		db:       db,
		log:      logger,
		stopped:  make(chan struct{}),
	}, nil
}

// Stop requests shutdown; the next loop iteration performs it.
func (s *Server) Stop() {
	s.stopping.Store(true)
}

// Run is the single-threaded main loop. It blocks until Stop is called
// or a fatal error occurs.
func (s *Server) Run() error {
	defer close(s.stopped)
	events := make([]unix.EpollEvent, 128)

	for !s.stopping.Load() {
		wait := s.timers.NextWaitMS()
		_ = s.pfd.armTimer(wait)

		n, err := s.pfd.wait(events, -1)
		if err != nil {
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)

			switch {
			case fd == s.listenFD:
				s.handleAcceptable()
			case fd == s.pfd.timerFD:
				s.pfd.drainTimer()
			default:
				s.handleClientEvent(fd, ev.Events)
			}
		}

		s.timers.Tick(s.expireConn)
	}

	s.shutdown()
	return nil
}

// handleAcceptable runs the bounded accept loop; the per-tick accept cap
// keeps a level-triggered listen fd from starving other fds.
func (s *Server) handleAcceptable() {
	for i := 0; i < s.cfg.AcceptCap; i++ {
		connFD, sa, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if s.log != nil {
				s.log.Warnf("accept: %v", err)
			}
			return
		}
		s.acceptOne(connFD, sa)
	}
	// The cap was reached with connections possibly still pending. An
	// edge-triggered listen fd would not be reported again, so re-arm it:
	// the MOD makes epoll re-check readiness for the next wait.
	if s.cfg.TrigMode.ListenEdgeTriggered() {
		_ = s.pfd.modify(s.listenFD, evRead, true)
	}
}

func (s *Server) acceptOne(connFD int, sa unix.Sockaddr) {
	if int(s.userCount.Load()) >= s.cfg.MaxFD {
		// Over the connection cap: write an inline 503 and close
		// immediately, never registering the fd with the poller.
		c := httpconn.New(connFD, addrFromSockaddr(sa), s.cfg.SrcDir, s.db)
		c.StageOverload()
		for attempt := 0; attempt < 64; attempt++ {
			_, drained, err := c.Write()
			if drained || err != nil {
				break
			}
		}
		unix.Close(connFD)
		return
	}

	et := s.cfg.TrigMode.ConnEdgeTriggered()
	if err := s.pfd.add(connFD, evRead, et); err != nil {
		unix.Close(connFD)
		return
	}

	conn := httpconn.New(connFD, addrFromSockaddr(sa), s.cfg.SrcDir, s.db)
	s.connsMu.Lock()
	s.conns[connFD] = conn
	s.connsMu.Unlock()

	s.userCount.Inc()
	if s.cfg.TimeoutMS > 0 {
		s.timers.Add(connFD, s.cfg.TimeoutMS)
	}
	if s.log != nil {
		s.log.Debugf("accepted conn %s fd=%d peer=%s", conn.ID, connFD, conn.Peer)
	}
}

func (s *Server) handleClientEvent(fd int, events uint32) {
	s.connsMu.Lock()
	conn, ok := s.conns[fd]
	s.connsMu.Unlock()
	if !ok {
		return
	}

	if events&evError != 0 {
		s.closeConn(conn)
		return
	}

	if conn.Busy.Load() {
		// An earlier task for this fd hasn't finished. Skipping is safe:
		// the task's final interest MOD re-arms the fd, so readiness that
		// fired meanwhile is reported again.
		return
	}

	if s.cfg.TimeoutMS > 0 {
		s.timers.Adjust(fd, s.cfg.TimeoutMS)
	}

	if events&evWrite != 0 {
		s.dispatchWrite(conn)
		return
	}
	if events&evRead != 0 {
		s.dispatchRead(conn)
	}
}

func (s *Server) dispatchRead(conn *httpconn.Conn) {
	conn.Busy.Store(true)
	et := s.cfg.TrigMode.ConnEdgeTriggered()
	if err := s.workers.Submit(func() { s.runRead(conn, et) }); err != nil {
		conn.Busy.Store(false)
	}
}

// runRead executes on a worker goroutine. Busy is cleared before the final
// interest MOD: the MOD makes epoll re-check readiness, so anything that
// fired while the task held the connection is re-reported to a reactor
// that will no longer skip it.
func (s *Server) runRead(conn *httpconn.Conn, edgeTriggered bool) {
	for {
		n, err := conn.Read()
		if err != nil {
			conn.Busy.Store(false)
			s.closeConn(conn)
			return
		}
		if n == 0 {
			break // EAGAIN: drained for now
		}
		if !edgeTriggered {
			break // level-triggered: one read per event is enough
		}
	}

	ready, err := conn.Process()
	if err != nil {
		conn.Busy.Store(false)
		s.closeConn(conn)
		return
	}
	conn.Busy.Store(false)
	if !ready {
		// Incomplete request: stay on read interest. The MOD re-arms an
		// edge-triggered fd whose bytes arrived while the task ran.
		_ = s.pfd.modify(conn.FD, evRead, edgeTriggered)
		return
	}
	_ = s.pfd.modify(conn.FD, evWrite, edgeTriggered)
}

func (s *Server) dispatchWrite(conn *httpconn.Conn) {
	conn.Busy.Store(true)
	et := s.cfg.TrigMode.ConnEdgeTriggered()
	if err := s.workers.Submit(func() { s.runWrite(conn, et) }); err != nil {
		conn.Busy.Store(false)
	}
}

func (s *Server) runWrite(conn *httpconn.Conn, edgeTriggered bool) {
	for {
		n, drained, err := conn.Write()
		if err != nil {
			conn.Busy.Store(false)
			s.closeConn(conn)
			return
		}
		if drained {
			break
		}
		if n == 0 || !edgeTriggered {
			// Would block, or level-triggered with partial progress:
			// the next writable event resumes the plan.
			conn.Busy.Store(false)
			return
		}
	}

	if !conn.IsKeepAlive() {
		conn.Busy.Store(false)
		s.closeConn(conn)
		return
	}
	if s.cfg.TimeoutMS > 0 {
		s.timers.Adjust(conn.FD, s.cfg.TimeoutMS)
	}
	conn.Busy.Store(false)
	_ = s.pfd.modify(conn.FD, evRead, edgeTriggered)
}

// expireConn is timerwheel's OnExpire callback: an idle timeout always
// forces a close on the reactor goroutine.
func (s *Server) expireConn(fd int) {
	s.connsMu.Lock()
	conn, ok := s.conns[fd]
	s.connsMu.Unlock()
	if !ok {
		return
	}
	if conn.Busy.Load() {
		// A worker still owns the connection; closing the fd out from
		// under its read/write would hand a recycled fd to the task.
		// Retry on the next tick instead.
		s.timers.Add(fd, 1)
		return
	}
	s.closeConn(conn)
}

func (s *Server) closeConn(conn *httpconn.Conn) {
	_ = s.pfd.remove(conn.FD)
	s.timers.Del(conn.FD)

	s.connsMu.Lock()
	delete(s.conns, conn.FD)
	s.connsMu.Unlock()

	// Close is a CAS; only the winner of a worker/reactor race gets to
	// decrement the user count.
	if conn.Close(unix.Close) {
		if s.log != nil {
			s.log.Debugf("closed conn %s fd=%d", conn.ID, conn.FD)
		}
		s.userCount.Dec()
	}
}

// UserCount reports live connections, for tests and diagnostics.
func (s *Server) UserCount() int64 { return s.userCount.Load() }

// shutdown stops listening, drains the worker pool, closes every
// connection, then closes the DB pool, the logger and the poller.
func (s *Server) shutdown() {
	_ = s.pfd.remove(s.listenFD)
	unix.Close(s.listenFD)

	// Join the workers before touching connections so no task is still
	// holding one when its fd is closed.
	s.workers.Close()

	s.connsMu.Lock()
	all := make([]*httpconn.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		all = append(all, c)
	}
	s.connsMu.Unlock()
	for _, c := range all {
		s.closeConn(c)
	}

	if s.db != nil {
		s.db.CloseAll()
	}
	if s.log != nil {
		s.log.Close()
	}
	_ = s.pfd.close()
}
