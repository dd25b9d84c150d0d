// Package monitoring serves the state of a running machine over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/mem/vm/share"
	"github.com/chronos-systems/vmsim/mem/vm/vmm"
	"github.com/chronos-systems/vmsim/monitoring/web"
	"github.com/chronos-systems/vmsim/sim/hooking"
)

// Inspector exposes the memory manager state that the monitor serves. Calls
// may come from any goroutine.
type Inspector interface {
	KernelDir() vm.Dir
	Policy() vmm.ForkPolicy
	Spaces() []vm.Dir
	Shares() []share.Record
	Mappings(dir vm.Dir, from, to vm.Addr) []vmm.Mapping
}

// FrameCounter reports the state of the frame pool.
type FrameCounter interface {
	FreeCount() int
	StartCount() int
}

// EventCounter reports how many events of each kind happened.
type EventCounter interface {
	Snapshot() map[string]uint64
}

// Monitor can turn a machine into a server and allows external monitoring of
// its memory state.
type Monitor struct {
	portNumber  int
	openBrowser bool

	componentsLock sync.Mutex
	components     []hooking.Named

	inspector Inspector
	frames    FrameCounter
	events    EventCounter

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes StartServer open the monitoring page.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// RegisterInspector sets where address space information comes from.
func (m *Monitor) RegisterInspector(i Inspector) {
	m.inspector = i
}

// RegisterFrameCounter sets where frame pool information comes from.
func (m *Monitor) RegisterFrameCounter(c FrameCounter) {
	m.frames = c
}

// RegisterEventCounter sets where event counts come from.
func (m *Monitor) RegisterEventCounter(c EventCounter) {
	m.events = c
}

// RegisterComponent registers a component whose fields can be inspected.
func (m *Monitor) RegisterComponent(c hooking.Named) {
	m.componentsLock.Lock()
	defer m.componentsLock.Unlock()

	m.components = append(m.components, c)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the API and the web page.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/stats", m.stats)
	r.HandleFunc("/api/spaces", m.listSpaces)
	r.HandleFunc("/api/shares", m.listShares)
	r.HandleFunc("/api/mappings/{dir}", m.listMappings)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its address.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	router := m.Router()

	go func() {
		err := http.Serve(listener, router)
		dieOnErr(err)
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %v\n", err)
		}
	}

	return url
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	m.componentsLock.Lock()
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.Name())
	}
	m.componentsLock.Unlock()

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) hooking.Named {
	m.componentsLock.Lock()
	defer m.componentsLock.Unlock()

	for _, c := range m.components {
		if c.Name() == name {
			return c
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Component not found"))
	dieOnErr(err)

	return nil
}

type statsRsp struct {
	Policy      string            `json:"policy,omitempty"`
	KernelDir   string            `json:"kernel_dir,omitempty"`
	Spaces      int               `json:"spaces"`
	Shares      int               `json:"shares"`
	FreeFrames  int               `json:"free_frames"`
	StartFrames int               `json:"start_frames"`
	Events      map[string]uint64 `json:"events,omitempty"`
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	rsp := statsRsp{}

	if m.inspector != nil {
		rsp.Policy = m.inspector.Policy().String()
		rsp.KernelDir = m.inspector.KernelDir().String()
		rsp.Spaces = len(m.inspector.Spaces())
		rsp.Shares = len(m.inspector.Shares())
	}

	if m.frames != nil {
		rsp.FreeFrames = m.frames.FreeCount()
		rsp.StartFrames = m.frames.StartCount()
	}

	if m.events != nil {
		rsp.Events = m.events.Snapshot()
	}

	writeJSON(w, rsp)
}

type spaceRsp struct {
	Dir       string `json:"dir"`
	UserPages int    `json:"user_pages"`
}

func (m *Monitor) listSpaces(w http.ResponseWriter, _ *http.Request) {
	if !m.mustHaveInspector(w) {
		return
	}

	rsp := []spaceRsp{}
	for _, dir := range m.inspector.Spaces() {
		pages := m.inspector.Mappings(dir, 0, vm.UVMTop)
		rsp = append(rsp, spaceRsp{
			Dir:       vm.Addr(dir).String(),
			UserPages: len(pages),
		})
	}

	writeJSON(w, rsp)
}

type shareRsp struct {
	Frame string `json:"frame"`
	Refs  int    `json:"refs"`
}

func (m *Monitor) listShares(w http.ResponseWriter, _ *http.Request) {
	if !m.mustHaveInspector(w) {
		return
	}

	rsp := []shareRsp{}
	for _, rec := range m.inspector.Shares() {
		rsp = append(rsp, shareRsp{Frame: rec.Frame.String(), Refs: rec.Refs})
	}

	writeJSON(w, rsp)
}

type mappingRsp struct {
	Virt       string `json:"virt"`
	Frame      string `json:"frame"`
	Flags      string `json:"flags"`
	TableFlags string `json:"table_flags"`
}

func (m *Monitor) listMappings(w http.ResponseWriter, r *http.Request) {
	if !m.mustHaveInspector(w) {
		return
	}

	dir, err := parseAddr(mux.Vars(r)["dir"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !m.knownDir(vm.Dir(dir)) {
		http.Error(w, "address space not found", http.StatusNotFound)
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rsp := []mappingRsp{}
	for _, mp := range m.inspector.Mappings(vm.Dir(dir), from, to) {
		rsp = append(rsp, mappingRsp{
			Virt:       mp.Virt.String(),
			Frame:      mp.Frame.String(),
			Flags:      mp.Flags.String(),
			TableFlags: mp.TableFlags.String(),
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) knownDir(dir vm.Dir) bool {
	if dir == m.inspector.KernelDir() {
		return true
	}

	for _, d := range m.inspector.Spaces() {
		if d == dir {
			return true
		}
	}

	return false
}

func (m *Monitor) mustHaveInspector(w http.ResponseWriter) bool {
	if m.inspector == nil {
		http.Error(w, "no memory manager registered",
			http.StatusServiceUnavailable)
		return false
	}

	return true
}

func parseAddr(s string) (vm.Addr, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}

	return vm.Addr(v), nil
}

func parseRange(r *http.Request) (from, to vm.Addr, err error) {
	from, to = 0, vm.MaxAddr

	if s := r.URL.Query().Get("from"); s != "" {
		if from, err = parseAddr(s); err != nil {
			return 0, 0, err
		}
	}

	if s := r.URL.Query().Get("to"); s != "" {
		if to, err = parseAddr(s); err != nil {
			return 0, 0, err
		}
	}

	if to < from {
		return 0, 0, fmt.Errorf("empty range %s to %s", from, to)
	}

	return from, to, nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]*ProgressBar, len(m.progressBars))
	copy(bars, m.progressBars)

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if s := r.URL.Query().Get("ms"); s != "" {
		ms, err := strconv.Atoi(s)
		if err != nil || ms <= 0 {
			http.Error(w, "invalid duration", http.StatusBadRequest)
			return
		}

		duration = time.Duration(ms) * time.Millisecond
	}

	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(duration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
