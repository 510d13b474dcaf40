// Package monitoring exposes the running executor and transport state as a
// small JSON HTTP API, the way sarchlab/akita's monitoring.Monitor turns a
// running simulation into an inspectable server. Nothing here touches
// transfer semantics; it only reads counters the transport and presentation
// layers already maintain.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"

	// Registers pprof's HTTP handlers on http.DefaultServeMux.
	_ "net/http/pprof"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"

	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/internal/idgen"
	"github.com/OpenCyphal/libuavcan/presentation"
)

// ExecutorStats is the subset of *executor.Executor the monitor reports on.
type ExecutorStats interface {
	NumRegistered() int
	WorstLateness() executor.Duration
}

// TransportStats is the subset of *can.Transport / *udp.Transport the
// monitor reports on; both transports already satisfy this.
type TransportStats interface {
	TxQueueLen() int
	TxQueueDropped() uint64
	SessionCounts() (message, request, response int)
}

// Server turns a running Executor and its bound transports into an HTTP
// introspection endpoint.
type Server struct {
	ex         ExecutorStats
	portNumber int
	ids        idgen.Generator

	mu         sync.Mutex
	transports map[string]TransportStats
	endpoints  map[string]*presentation.Endpoint
}

// NewServer builds a Server reporting on ex. Register transports with
// RegisterTransport, and presentation endpoints with RegisterEndpoint,
// before calling Start. Each snapshot row carries a process-unique
// SnapshotID from idgen.Default, so a client polling /api/transports
// repeatedly can tell two rows with identical counters apart in its own
// logs without the server needing a request counter of its own.
func NewServer(ex ExecutorStats) *Server {
	return &Server{
		ex:         ex,
		ids:        idgen.Default,
		transports: make(map[string]TransportStats),
		endpoints:  make(map[string]*presentation.Endpoint),
	}
}

// WithPortNumber sets the TCP port Start listens on. Values below 1000 are
// rejected in favor of an OS-assigned ephemeral port, the same guard the
// teacher's monitor applies to avoid colliding with privileged services.
func (s *Server) WithPortNumber(port int) *Server {
	if port != 0 && port < 1000 {
		fmt.Fprintf(os.Stderr,
			"port %d is not allowed for the monitoring server; using a random port instead\n", port)
		port = 0
	}
	s.portNumber = port
	return s
}

// RegisterTransport adds a named transport (e.g. "can0", "udp0") to the
// /api/transports snapshot.
func (s *Server) RegisterTransport(name string, t TransportStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transports[name] = t
}

// RegisterEndpoint adds a named presentation.Endpoint to the
// /api/presentation snapshot.
func (s *Server) RegisterEndpoint(name string, e *presentation.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[name] = e
}

// Start binds a listener and serves the API in a background goroutine,
// returning the address it bound to (useful when WithPortNumber(0) let the
// OS pick).
func (s *Server) Start() (string, error) {
	r := mux.NewRouter()
	r.HandleFunc("/api/now", s.now)
	r.HandleFunc("/api/executor", s.executorSnapshot)
	r.HandleFunc("/api/transports", s.transportSnapshot)
	r.HandleFunc("/api/presentation", s.presentationSnapshot)
	r.HandleFunc("/api/resource", s.resourceSnapshot)
	r.HandleFunc("/api/profile", s.collectProfile)
	sm := http.NewServeMux()
	sm.Handle("/debug/pprof/", http.DefaultServeMux)
	sm.Handle("/", r)

	addr := ":0"
	if s.portNumber > 0 {
		addr = ":" + strconv.Itoa(s.portNumber)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("start monitoring server: %w", err)
	}

	go func() {
		if err := http.Serve(listener, sm); err != nil {
			log.Println("monitoring server stopped:", err)
		}
	}()

	return listener.Addr().String(), nil
}

// Open launches the system browser at http://addr/, for the
// `cyphalctl monitor --open` flag.
func Open(addr string) error {
	return browser.OpenURL("http://" + addr + "/")
}

func (s *Server) now(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, `{"now_ns":%d}`, time.Now().UnixNano())
}

type executorSnapshotRsp struct {
	NumRegistered     int   `json:"num_registered"`
	WorstLatenessNsec int64 `json:"worst_lateness_ns"`
}

func (s *Server) executorSnapshot(w http.ResponseWriter, _ *http.Request) {
	rsp := executorSnapshotRsp{
		NumRegistered:     s.ex.NumRegistered(),
		WorstLatenessNsec: int64(s.ex.WorstLateness().AsTimeDuration()),
	}
	writeJSON(w, rsp)
}

type transportSnapshotRsp struct {
	SnapshotID       string `json:"snapshot_id"`
	Name             string `json:"name"`
	TxQueueLen       int    `json:"tx_queue_len"`
	TxQueueDropped   uint64 `json:"tx_queue_dropped"`
	MessageSessions  int    `json:"message_sessions"`
	RequestSessions  int    `json:"request_sessions"`
	ResponseSessions int    `json:"response_sessions"`
}

func (s *Server) transportSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	snapshots := make([]transportSnapshotRsp, 0, len(s.transports))
	for name, t := range s.transports {
		msg, req, resp := t.SessionCounts()
		snapshots = append(snapshots, transportSnapshotRsp{
			SnapshotID:       s.ids.Generate(),
			Name:             name,
			TxQueueLen:       t.TxQueueLen(),
			TxQueueDropped:   t.TxQueueDropped(),
			MessageSessions:  msg,
			RequestSessions:  req,
			ResponseSessions: resp,
		})
	}
	s.mu.Unlock()
	writeJSON(w, snapshots)
}

type presentationSnapshotRsp struct {
	SnapshotID       string `json:"snapshot_id"`
	Name             string `json:"name"`
	Publishers       int    `json:"publishers"`
	Subscribers      int    `json:"subscribers"`
	Clients          int    `json:"clients"`
	Servers          int    `json:"servers"`
	DroppedResponses uint64 `json:"dropped_responses"`
}

func (s *Server) presentationSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	snapshots := make([]presentationSnapshotRsp, 0, len(s.endpoints))
	for name, e := range s.endpoints {
		pub, sub, cli, srv := e.SessionCounts()
		snapshots = append(snapshots, presentationSnapshotRsp{
			SnapshotID:       s.ids.Generate(),
			Name:             name,
			Publishers:       pub,
			Subscribers:      sub,
			Clients:          cli,
			Servers:          srv,
			DroppedResponses: e.Counters().DroppedResponses,
		})
	}
	s.mu.Unlock()
	writeJSON(w, snapshots)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
}

func (s *Server) resourceSnapshot(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	mem, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceRsp{CPUPercent: cpuPercent, MemoryRSS: mem.RSS})
}

// collectProfile takes a one-second CPU profile of the embedding process
// and returns it as JSON via google/pprof/profile's structured decoder,
// rather than the raw pprof.proto bytes a human would need a separate tool
// to read.
func (s *Server) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := new(bytes.Buffer)
	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	time.Sleep(time.Second)
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("monitoring: write response:", err)
	}
}
