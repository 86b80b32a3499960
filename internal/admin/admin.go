package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/server"
)

// Admin serves metrics and debug views of a running game server over HTTP.
type Admin struct {
	srv      *server.Server
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	started  time.Time
}

// New creates an admin surface for srv. A nil gatherer uses the default
// Prometheus registry.
func New(srv *server.Server, gatherer prometheus.Gatherer) *Admin {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Admin{
		srv:      srv,
		gatherer: gatherer,
		logger:   srv.Logger().With("component", "admin"),
		started:  time.Now(),
	}
}

// Handler returns the admin routes.
func (a *Admin) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Route("/debug", func(r chi.Router) {
		r.Get("/packets", a.listPackets)
		r.Get("/packets/{id}", a.getPacket)
		r.Get("/connections", a.listConnections)
		r.Get("/stats", a.stats)
	})
	return r
}

// ListenAndServe serves the admin routes on addr until ctx is cancelled.
func (a *Admin) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", addr, err)
	}
	return a.Serve(ctx, l)
}

// Serve serves the admin routes on l until ctx is cancelled.
func (a *Admin) Serve(ctx context.Context, l net.Listener) error {
	hs := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelWarn),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)
	}()

	a.logger.Info("admin server starting", "address", l.Addr().String())
	if err := hs.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *Admin) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// PacketSummary describes one registered packet type.
type PacketSummary struct {
	ID          int32                `json:"id"`
	Name        string               `json:"name"`
	Compression protocol.Compression `json:"compression"`
	MaxSize     int                  `json:"max_size"`
	Layout      string               `json:"layout"`
	Fingerprint string               `json:"fingerprint"`
	Fields      int                  `json:"fields"`
}

// PacketDetail adds the field layout to a PacketSummary.
type PacketDetail struct {
	PacketSummary
	BitmapBytes        int           `json:"bitmap_bytes"`
	FixedBlockSize     int           `json:"fixed_block_size"`
	OffsetSlots        int           `json:"offset_slots"`
	VariableBlockStart int           `json:"variable_block_start"`
	FieldList          []FieldDetail `json:"field_list"`
	Description        string        `json:"description"`
}

// FieldDetail describes one field of a packet.
type FieldDetail struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Fixed    int    `json:"fixed_index"`
	Bit      int    `json:"bit_index"`
	Offset   int    `json:"offset_index"`
	Nullable bool   `json:"nullable"`
}

// PacketList is the body of /debug/packets.
type PacketList struct {
	ProtocolHash string          `json:"protocol_hash"`
	Packets      []PacketSummary `json:"packets"`
}

func summarize(e *protocol.Entry) PacketSummary {
	return PacketSummary{
		ID:          e.Info.ID,
		Name:        e.Info.Name,
		Compression: e.Info.Compression,
		MaxSize:     e.Info.MaxSize,
		Layout:      e.Schema.Layout.String(),
		Fingerprint: fmt.Sprintf("%016x", e.Schema.Fingerprint),
		Fields:      len(e.Schema.Fields),
	}
}

// Describe returns the full layout of a registered packet type.
func Describe(e *protocol.Entry) PacketDetail {
	s := e.Schema
	d := PacketDetail{
		PacketSummary:      summarize(e),
		BitmapBytes:        s.BitmapBytes,
		FixedBlockSize:     s.FixedBlockSize,
		OffsetSlots:        s.OffsetTableSize / 4,
		VariableBlockStart: s.VariableBlockStart,
		Description:        s.Describe(),
	}
	for _, f := range s.Fields {
		d.FieldList = append(d.FieldList, FieldDetail{
			Name:     f.Name,
			Kind:     f.Kind.String(),
			Fixed:    f.FixedIndex,
			Bit:      f.BitIndex,
			Offset:   f.OffsetIndex,
			Nullable: f.IsNullable(),
		})
	}
	return d
}

// ListPackets summarizes every packet type of reg, ordered by id.
func ListPackets(reg *protocol.Registry) PacketList {
	list := PacketList{ProtocolHash: fmt.Sprintf("%016x", reg.Fingerprint())}
	for _, e := range reg.Entries() {
		list.Packets = append(list.Packets, summarize(e))
	}
	return list
}

func (a *Admin) listPackets(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, ListPackets(a.srv.Codec().Registry()))
}

func (a *Admin) getPacket(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "packet id must be an integer")
		return
	}
	e, ok := a.srv.Codec().Registry().ByID(int32(id))
	if !ok {
		a.writeError(w, http.StatusNotFound, fmt.Sprintf("packet %d not registered", id))
		return
	}
	a.writeJSON(w, http.StatusOK, Describe(e))
}

// ConnectionList is the body of /debug/connections.
type ConnectionList struct {
	Count       int                     `json:"count"`
	Connections []server.ConnectionInfo `json:"connections"`
}

func (a *Admin) listConnections(w http.ResponseWriter, _ *http.Request) {
	conns := a.srv.Connections().Snapshot()
	if conns == nil {
		conns = []server.ConnectionInfo{}
	}
	a.writeJSON(w, http.StatusOK, ConnectionList{Count: len(conns), Connections: conns})
}

// Stats is the body of /debug/stats.
type Stats struct {
	Uptime      string                `json:"uptime"`
	Connections server.ManagerStats   `json:"connections"`
	Traffic     *server.ServerMetrics `json:"traffic"`
}

func (a *Admin) stats(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, Stats{
		Uptime:      time.Since(a.started).Round(time.Second).String(),
		Connections: a.srv.Connections().Stats(),
		Traffic:     a.srv.Metrics(),
	})
}

func (a *Admin) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		a.logger.Debug("write response failed", "error", err)
	}
}

func (a *Admin) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}
