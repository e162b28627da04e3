package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/relaykit/snapshot-relay/internal/api"
	v0 "github.com/relaykit/snapshot-relay/internal/api/v0"
	"github.com/relaykit/snapshot-relay/internal/binding"
	"github.com/relaykit/snapshot-relay/internal/ingress"
	"github.com/relaykit/snapshot-relay/internal/notifier"
	"github.com/relaykit/snapshot-relay/internal/registration"
	"github.com/relaykit/snapshot-relay/internal/store"
)

const sampleInterval = 10 * time.Millisecond

// mockCoordinator stands in for the remote coordinator's /attach
// endpoint. Whether it accepts registrations can be flipped at runtime.
type mockCoordinator struct {
	server *httptest.Server
	accept atomic.Bool
	mu     sync.Mutex
	hosts  []string
}

func newMockCoordinator() *mockCoordinator {
	mc := &mockCoordinator{}
	mc.accept.Store(true)
	mc.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/attach" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var body struct {
			Host string `json:"host"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		mc.mu.Lock()
		mc.hosts = append(mc.hosts, body.Host)
		mc.mu.Unlock()

		if mc.accept.Load() {
			_, _ = w.Write([]byte("true"))
			return
		}
		_, _ = w.Write([]byte("false"))
	}))
	mc.server.Config.SetKeepAlivesEnabled(false)
	return mc
}

func (mc *mockCoordinator) registeredHosts() []string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]string(nil), mc.hosts...)
}

// deliveryRecorder captures observer signals from the notifier.
type deliveryRecorder struct {
	mu           sync.Mutex
	deliveries   []store.Snapshot
	needsBinding int
}

func (d *deliveryRecorder) Deliver(snapshot store.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, snapshot)
}

func (d *deliveryRecorder) NeedsBinding() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.needsBinding++
}

func (d *deliveryRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deliveries)
}

func (d *deliveryRecorder) needsBindingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.needsBinding
}

func (d *deliveryRecorder) last() store.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deliveries[len(d.deliveries)-1]
}

// relayHarness wires a complete receiver around an HTTP test server.
type relayHarness struct {
	server      *httptest.Server
	coordinator *mockCoordinator
	recorder    *deliveryRecorder
	notifier    *notifier.Notifier
	binding     *binding.Binding
}

func newRelayHarness() *relayHarness {
	logger, _ := newTestLogger()

	st := store.New()
	b := binding.New()
	coordinator := newMockCoordinator()
	recorder := &deliveryRecorder{}

	registrar := registration.New(b, logger)
	changeNotifier := notifier.New(st, b, recorder, logger, notifier.WithInterval(sampleInterval))
	go func() {
		defer GinkgoRecover()
		Expect(changeNotifier.Start(ctx)).To(Succeed())
	}()

	routes := v0.NewRoutes(ingress.New(st, logger), st, b, registrar, logger)
	server := httptest.NewServer(api.NewServer(routes))
	server.Config.SetKeepAlivesEnabled(false)

	return &relayHarness{
		server:      server,
		coordinator: coordinator,
		recorder:    recorder,
		notifier:    changeNotifier,
		binding:     b,
	}
}

func (h *relayHarness) close() {
	Expect(h.notifier.Stop()).To(Succeed())
	h.server.Close()
	h.coordinator.server.Close()
}

func (h *relayHarness) bind() (*http.Response, string) {
	body := `{"local": "` + h.server.URL + `", "server": "` + h.coordinator.server.URL + `"}`
	return h.post("/api/v0/bind", body)
}

func (h *relayHarness) post(path, body string) (*http.Response, string) {
	resp, err := http.Post(h.server.URL+path, "application/json", strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, string(data)
}

func (h *relayHarness) get(path string) (*http.Response, string) {
	resp, err := http.Get(h.server.URL + path)
	Expect(err).NotTo(HaveOccurred())
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, string(data)
}

var _ = Describe("Snapshot Relay", Label("e2e"), func() {
	var harness *relayHarness

	BeforeEach(func() {
		harness = newRelayHarness()
	})

	AfterEach(func() {
		harness.close()
	})

	Context("coordinator registration", func() {
		It("becomes ready once bound", func() {
			resp, _ := harness.get("/readiness")
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))

			resp, _ = harness.bind()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(harness.coordinator.registeredHosts()).To(ConsistOf(harness.server.URL))

			resp, _ = harness.get("/readiness")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("surfaces a coordinator rejection and recovers on retry", func() {
			harness.coordinator.accept.Store(false)

			resp, _ := harness.bind()
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))

			resp, body := harness.get("/api/v0/binding")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var status binding.Status
			Expect(json.Unmarshal([]byte(body), &status)).To(Succeed())
			Expect(status.State).To(Equal(binding.StateFailed))
			Expect(status.LastError).NotTo(BeEmpty())

			// The coordinator starts accepting; a manual retry heals the
			// binding in place.
			harness.coordinator.accept.Store(true)
			resp, _ = harness.bind()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(harness.binding.CurrentState()).To(Equal(binding.StateBound))
		})

		It("signals the observer that a binding is needed while unbound", func() {
			resp, _ := harness.post("/push", `{"timestamp": 1, "data": "early"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			Eventually(harness.recorder.needsBindingCount).Should(BeNumerically(">=", 2))
			Expect(harness.recorder.count()).To(BeZero())
		})
	})

	Context("push ingestion", func() {
		It("echoes the pushed timestamp verbatim", func() {
			resp, body := harness.post("/push", `{"timestamp": 1678886400, "data": "trace text", "trace": ""}`)

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(Equal("1678886400"))
		})

		It("rejects a malformed payload with the documented error", func() {
			resp, body := harness.post("/push", `{"data": "missing timestamp"}`)

			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body).To(Equal("Err: Malformed payload"))
		})
	})

	Context("change notification", func() {
		BeforeEach(func() {
			resp, _ := harness.bind()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("delivers each pushed snapshot exactly once", func() {
			resp, _ := harness.post("/push", `{"timestamp": 100, "data": "first"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			Eventually(harness.recorder.count).Should(Equal(1))
			Expect(harness.recorder.last().Data).To(Equal("first"))

			// Same timestamp again is not a change.
			resp, _ = harness.post("/push", `{"timestamp": 100, "data": "replayed"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Consistently(harness.recorder.count, 10*sampleInterval).Should(Equal(1))

			resp, _ = harness.post("/push", `{"timestamp": 101, "data": "second"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Eventually(harness.recorder.count).Should(Equal(2))
			Expect(harness.recorder.last().Data).To(Equal("second"))
		})

		It("serves the latest snapshot over the API", func() {
			resp, _ := harness.post("/push", `{"timestamp": 7, "data": "visible", "trace": "frame"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, body := harness.get("/api/v0/snapshot")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var snapshot v0.SnapshotResponse
			Expect(json.Unmarshal([]byte(body), &snapshot)).To(Succeed())
			Expect(snapshot.Timestamp).To(Equal(int64(7)))
			Expect(snapshot.Data).To(Equal("visible"))
			Expect(snapshot.Trace).To(Equal("frame"))
			Expect(snapshot.ReceivedAt).NotTo(BeEmpty())
		})
	})
})
