// Command libsessiond is a C shared library (build with
// `go build -buildmode=c-shared`) exposing the session data service to
// non-Go callers: a host application, a shell-hook companion, or a
// language binding that cannot link the Go runtime directly.
//
// Two handle families are exported, matching the two ways a caller can
// legitimately reach the data:
//
//   - SessionDbHandle: direct, single-process storage access. For a
//     caller that IS the Agent, or a short-lived tool happy to read the
//     database without a broker running.
//   - AgentClientHandle: the normal path — connect to (or auto-launch)
//     the broker, subscribe to push events, and send requests over its
//     Unix socket.
//
// Every exported function recovers from panics at its own boundary and
// maps them to FfiError Unknown; no Go panic ever crosses into C.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef void (*sessiond_push_callback)(int event_type, const char *session_id, const char *data_json, void *user_data);

static inline void sessiond_call_push_callback(sessiond_push_callback fn, int event_type, const char *session_id, const char *data_json, void *user_data) {
	fn(event_type, session_id, data_json, user_data);
}
*/
import "C"

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime/cgo"
	"sync"
	"time"
	"unsafe"

	"github.com/localsession/sessiond/internal/agentclient"
	"github.com/localsession/sessiond/internal/protocol"
	"github.com/localsession/sessiond/internal/session"
	"github.com/localsession/sessiond/internal/storage"
	"github.com/localsession/sessiond/internal/transcript"
)

func main() {} // required by -buildmode=c-shared, never runs

// FfiError values are fixed integers: a caller links against the integer
// values, not the Go constant names, which do not appear in the header
// cgo generates.
const (
	ffiSuccess          = 0
	ffiNullPointer      = 1
	ffiInvalidUTF8      = 2
	ffiDatabaseError    = 3
	ffiCoordinationErr  = 4
	ffiPermissionDenied = 5
	ffiConnectionFailed = 6
	ffiNotConnected     = 7
	ffiRequestFailed    = 8
	ffiAgentNotFound    = 9
	ffiRuntimeError     = 10
	ffiUnknown          = 99
)

// recoverFfi turns any panic inside an exported function into
// FfiError::Unknown instead of letting it unwind across the C boundary.
func recoverFfi(ret *C.int) {
	if r := recover(); r != nil {
		*ret = C.int(ffiUnknown)
	}
}

func cString(s string) *C.char { return C.CString(s) }

//export sessiond_free_string
func sessiond_free_string(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

// ---------------------------------------------------------------------
// SessionDbHandle: direct storage access.
// ---------------------------------------------------------------------

type dbState struct {
	mu    sync.Mutex
	store *storage.Store
}

//export session_db_connect
func session_db_connect(path *C.char, outHandle *C.uintptr_t) (ret C.int) {
	defer recoverFfi(&ret)
	if outHandle == nil {
		return ffiNullPointer
	}

	cfg := storage.DefaultConfig()
	if path != nil {
		cfg.Path = C.GoString(path)
	}

	store, err := storage.Connect(cfg)
	if err != nil {
		return ffiDatabaseError
	}

	h := cgo.NewHandle(&dbState{store: store})
	*outHandle = C.uintptr_t(h)
	return ffiSuccess
}

//export session_db_close
func session_db_close(handle C.uintptr_t) {
	defer func() { recover() }()
	h := cgo.Handle(handle)
	st, ok := h.Value().(*dbState)
	if !ok {
		return
	}
	st.mu.Lock()
	st.store.Close()
	st.mu.Unlock()
	h.Delete()
}

func lookupDB(handle C.uintptr_t) *dbState {
	st, ok := cgo.Handle(handle).Value().(*dbState)
	if !ok {
		return nil
	}
	return st
}

//export session_db_upsert_project
func session_db_upsert_project(handle C.uintptr_t, path, source *C.char, outID *C.longlong) (ret C.int) {
	defer recoverFfi(&ret)
	st := lookupDB(handle)
	if st == nil || path == nil || outID == nil {
		return ffiNullPointer
	}
	src := "claude"
	if source != nil {
		src = C.GoString(source)
	}
	id, err := st.store.UpsertProject(C.GoString(path), src)
	if err != nil {
		return ffiDatabaseError
	}
	*outID = C.longlong(id)
	return ffiSuccess
}

//export session_db_list_projects
func session_db_list_projects(handle C.uintptr_t, outJSON **C.char) (ret C.int) {
	defer recoverFfi(&ret)
	st := lookupDB(handle)
	if st == nil || outJSON == nil {
		return ffiNullPointer
	}
	projects, err := st.store.ListProjects()
	if err != nil {
		return ffiDatabaseError
	}
	return marshalOut(projects, outJSON)
}

//export session_db_list_sessions
func session_db_list_sessions(handle C.uintptr_t, projectID C.longlong, outJSON **C.char) (ret C.int) {
	defer recoverFfi(&ret)
	st := lookupDB(handle)
	if st == nil || outJSON == nil {
		return ffiNullPointer
	}
	sessions, err := st.store.ListSessions(int64(projectID))
	if err != nil {
		return ffiDatabaseError
	}
	return marshalOut(sessions, outJSON)
}

//export session_db_list_messages
func session_db_list_messages(handle C.uintptr_t, sessionID *C.char, limit C.int, offset C.int, outJSON **C.char) (ret C.int) {
	defer recoverFfi(&ret)
	st := lookupDB(handle)
	if st == nil || sessionID == nil || outJSON == nil {
		return ffiNullPointer
	}
	messages, err := st.store.ListMessages(C.GoString(sessionID), int(limit), int(offset))
	if err != nil {
		return ffiDatabaseError
	}
	return marshalOut(messages, outJSON)
}

// defaultProjectsRoot resolves the Claude Code transcript root used by
// the filesystem-level discovery exports when the caller passes null,
// mirroring how the adapters themselves expand a default root.
func defaultProjectsRoot(path *C.char) string {
	if path != nil {
		return C.GoString(path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

//export session_db_list_file_projects
func session_db_list_file_projects(projectsPath *C.char, limit C.uint32_t, outJSON **C.char) (ret C.int) {
	defer recoverFfi(&ret)
	if outJSON == nil {
		return ffiNullPointer
	}
	infos, err := transcript.ListProjects(defaultProjectsRoot(projectsPath), int(limit))
	if err != nil {
		return ffiDatabaseError
	}
	return marshalOut(infos, outJSON)
}

//export session_db_find_latest_session
func session_db_find_latest_session(projectsPath, projectPath *C.char, withinSeconds C.uint64_t, outJSON **C.char) (ret C.int) {
	defer recoverFfi(&ret)
	if outJSON == nil || projectPath == nil {
		return ffiNullPointer
	}
	meta, err := transcript.FindLatestSession(defaultProjectsRoot(projectsPath), C.GoString(projectPath), int64(withinSeconds))
	if err != nil {
		return ffiDatabaseError
	}
	return marshalOut(meta, outJSON)
}

//export session_db_compute_session_path
func session_db_compute_session_path(projectsPath, encodedDirName, sessionID *C.char, outPath **C.char) (ret C.int) {
	defer recoverFfi(&ret)
	if outPath == nil || encodedDirName == nil || sessionID == nil {
		return ffiNullPointer
	}
	path := transcript.ComputeSessionPath(defaultProjectsRoot(projectsPath), C.GoString(encodedDirName), C.GoString(sessionID))
	*outPath = cString(path)
	return ffiSuccess
}

//export session_db_search_fts
func session_db_search_fts(handle C.uintptr_t, query *C.char, limit C.int, outJSON **C.char) (ret C.int) {
	defer recoverFfi(&ret)
	st := lookupDB(handle)
	if st == nil || query == nil || outJSON == nil {
		return ffiNullPointer
	}
	results, err := st.store.SearchFTS(C.GoString(query), int(limit), nil, session.OrderScore, nil, nil)
	if err != nil {
		return ffiDatabaseError
	}
	return marshalOut(results, outJSON)
}

//export session_db_update_approval_status
func session_db_update_approval_status(handle C.uintptr_t, toolCallID *C.char, status C.int, resolvedAt C.longlong) (ret C.int) {
	defer recoverFfi(&ret)
	st := lookupDB(handle)
	if st == nil || toolCallID == nil {
		return ffiNullPointer
	}
	rec := session.ApprovalRecord{
		ToolCallID: C.GoString(toolCallID),
		Status:     session.ApprovalStatus(status),
	}
	if resolvedAt >= 0 {
		t := time.UnixMilli(int64(resolvedAt))
		rec.ResolvedAt = &t
	}
	if err := st.store.UpsertApproval(rec); err != nil {
		return ffiDatabaseError
	}
	return ffiSuccess
}

//export session_db_get_stats
func session_db_get_stats(handle C.uintptr_t, outJSON **C.char) (ret C.int) {
	defer recoverFfi(&ret)
	st := lookupDB(handle)
	if st == nil || outJSON == nil {
		return ffiNullPointer
	}
	stats, err := st.store.GetStats()
	if err != nil {
		return ffiDatabaseError
	}
	return marshalOut(stats, outJSON)
}

// marshalOut JSON-encodes v into a freshly allocated C string and hands
// ownership to the caller, who must release it with
// sessiond_free_string. A JSON payload over the wire is a simplification
// of the original's per-type C struct arrays — this library has no
// struct-marshaling dependency in the corpus to reach for, and every
// other boundary in this repo (the IPC protocol) already speaks JSON, so
// callers get one decoding discipline instead of two.
func marshalOut(v any, outJSON **C.char) C.int {
	data, err := json.Marshal(v)
	if err != nil {
		return ffiUnknown
	}
	*outJSON = cString(string(data))
	return ffiSuccess
}

// ---------------------------------------------------------------------
// AgentClientHandle: the normal client path, via the Agent broker.
// ---------------------------------------------------------------------

type clientState struct {
	mu       sync.Mutex
	config   agentclient.Config
	client   *agentclient.Client
	pushFn   C.sessiond_push_callback
	pushData unsafe.Pointer
	pushStop chan struct{}
}

//export agent_client_create
func agent_client_create(component, dataDir *C.char, outHandle *C.uintptr_t) (ret C.int) {
	defer recoverFfi(&ret)
	if component == nil || outHandle == nil {
		return ffiNullPointer
	}

	cfg := agentclient.DefaultConfig(C.GoString(component))
	if dataDir != nil {
		cfg.DataDir = C.GoString(dataDir)
	}

	h := cgo.NewHandle(&clientState{config: cfg})
	*outHandle = C.uintptr_t(h)
	return ffiSuccess
}

//export agent_client_destroy
func agent_client_destroy(handle C.uintptr_t) {
	defer func() { recover() }()
	h := cgo.Handle(handle)
	st, ok := h.Value().(*clientState)
	if !ok {
		return
	}
	disconnectLocked(st)
	h.Delete()
}

func lookupClient(handle C.uintptr_t) *clientState {
	st, ok := cgo.Handle(handle).Value().(*clientState)
	if !ok {
		return nil
	}
	return st
}

//export agent_client_connect
func agent_client_connect(handle C.uintptr_t) (ret C.int) {
	defer recoverFfi(&ret)
	st := lookupClient(handle)
	if st == nil {
		return ffiNullPointer
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.client != nil {
		return ffiSuccess
	}

	client, err := agentclient.Connect(st.config)
	if err != nil {
		return ffiConnectionFailed
	}
	st.client = client
	if st.pushFn != nil {
		startPushForwarder(st)
	}
	return ffiSuccess
}

//export agent_client_notify_file_change
func agent_client_notify_file_change(handle C.uintptr_t, path *C.char) (ret C.int) {
	defer recoverFfi(&ret)
	st := lookupClient(handle)
	if st == nil || path == nil {
		return ffiNullPointer
	}
	st.mu.Lock()
	client := st.client
	st.mu.Unlock()
	if client == nil {
		return ffiNotConnected
	}
	if err := client.NotifyFileChange(C.GoString(path)); err != nil {
		return ffiRequestFailed
	}
	return ffiSuccess
}

//export agent_client_subscribe
func agent_client_subscribe(handle C.uintptr_t, events *C.int, count C.int) (ret C.int) {
	defer recoverFfi(&ret)
	st := lookupClient(handle)
	if st == nil {
		return ffiNullPointer
	}
	st.mu.Lock()
	client := st.client
	st.mu.Unlock()
	if client == nil {
		return ffiNotConnected
	}

	n := int(count)
	types := make([]protocol.EventType, 0, n)
	if n > 0 {
		slice := unsafe.Slice(events, n)
		for _, v := range slice {
			types = append(types, protocol.EventType(v))
		}
	}
	if err := client.Subscribe(types); err != nil {
		return ffiRequestFailed
	}
	return ffiSuccess
}

//export agent_client_write_approve_result
func agent_client_write_approve_result(handle C.uintptr_t, toolCallID *C.char, status C.int, resolvedAt C.longlong) (ret C.int) {
	defer recoverFfi(&ret)
	st := lookupClient(handle)
	if st == nil || toolCallID == nil {
		return ffiNullPointer
	}
	st.mu.Lock()
	client := st.client
	st.mu.Unlock()
	if client == nil {
		return ffiNotConnected
	}

	resolved := time.Now()
	if resolvedAt >= 0 {
		resolved = time.UnixMilli(int64(resolvedAt))
	}
	err := client.WriteApproveResult(C.GoString(toolCallID), protocol.ApprovalStatus(status), resolved)
	if err != nil {
		return ffiRequestFailed
	}
	return ffiSuccess
}

//export agent_client_set_push_callback
func agent_client_set_push_callback(handle C.uintptr_t, fn C.sessiond_push_callback, userData unsafe.Pointer) (ret C.int) {
	defer recoverFfi(&ret)
	st := lookupClient(handle)
	if st == nil {
		return ffiNullPointer
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pushFn = fn
	st.pushData = userData
	if st.client != nil && fn != nil {
		startPushForwarder(st)
	}
	return ffiSuccess
}

// startPushForwarder must be called with st.mu held. It launches (once)
// a goroutine draining the client's push channel into the registered C
// callback, JSON-encoding the full event as the payload so a binding
// can pull out whatever fields it needs without a matching C struct for
// every event shape.
func startPushForwarder(st *clientState) {
	if st.pushStop != nil {
		return
	}
	stop := make(chan struct{})
	st.pushStop = stop
	client := st.client
	fn := st.pushFn
	userData := st.pushData

	go func() {
		for {
			select {
			case push, ok := <-client.Pushes():
				if !ok {
					return
				}
				data, err := json.Marshal(push)
				if err != nil {
					continue
				}
				cSession := cString(push.SessionID)
				cData := cString(string(data))
				C.sessiond_call_push_callback(fn, C.int(push.Type), cSession, cData, userData)
				C.free(unsafe.Pointer(cSession))
				C.free(unsafe.Pointer(cData))
			case <-stop:
				return
			}
		}
	}()
}

//export agent_client_is_connected
func agent_client_is_connected(handle C.uintptr_t) C.int {
	defer func() { recover() }()
	st := lookupClient(handle)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.client != nil {
		return 1
	}
	return 0
}

//export agent_client_disconnect
func agent_client_disconnect(handle C.uintptr_t) {
	defer func() { recover() }()
	st := lookupClient(handle)
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	disconnectLocked(st)
}

// disconnectLocked must be called with st.mu held (or during destroy,
// when no other goroutine can observe st).
func disconnectLocked(st *clientState) {
	if st.pushStop != nil {
		close(st.pushStop)
		st.pushStop = nil
	}
	if st.client != nil {
		st.client.Close()
		st.client = nil
	}
}

//export agent_client_version
func agent_client_version() *C.char {
	return cString("0.1.0")
}
