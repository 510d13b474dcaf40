package monitoring_test

import (
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/OpenCyphal/libuavcan/executor"
	"github.com/OpenCyphal/libuavcan/monitoring"
	"github.com/OpenCyphal/libuavcan/presentation"
)

type fakeTransport struct {
	txLen, dropped             int
	message, request, response int
}

func (f *fakeTransport) TxQueueLen() int         { return f.txLen }
func (f *fakeTransport) TxQueueDropped() uint64  { return uint64(f.dropped) }
func (f *fakeTransport) SessionCounts() (int, int, int) {
	return f.message, f.request, f.response
}

var _ = Describe("Server", func() {
	var (
		ex   *executor.Executor
		srv  *monitoring.Server
		addr string
	)

	BeforeEach(func() {
		ex = executor.New(func() executor.TimePoint { return executor.Since(0) }, 8)
		srv = monitoring.NewServer(ex).WithPortNumber(0)

		tr := &fakeTransport{txLen: 3, dropped: 1, message: 2, request: 1, response: 1}
		srv.RegisterTransport("can0", tr)

		ep := presentation.NewEndpoint(ex, 0x10, nil, executor.Duration(1_000_000_000))
		srv.RegisterEndpoint("ep0", ep)

		var err error
		addr, err = srv.Start()
		Expect(err).NotTo(HaveOccurred())
	})

	It("reports executor state as JSON", func() {
		resp, err := http.Get("http://" + addr + "/api/executor")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var body struct {
			NumRegistered     int   `json:"num_registered"`
			WorstLatenessNsec int64 `json:"worst_lateness_ns"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body.NumRegistered).To(Equal(0))
	})

	It("reports registered transport counters as JSON", func() {
		resp, err := http.Get("http://" + addr + "/api/transports")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var body []struct {
			Name           string `json:"name"`
			TxQueueLen     int    `json:"tx_queue_len"`
			TxQueueDropped uint64 `json:"tx_queue_dropped"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body).To(HaveLen(1))
		Expect(body[0].Name).To(Equal("can0"))
		Expect(body[0].TxQueueLen).To(Equal(3))
		Expect(body[0].TxQueueDropped).To(Equal(uint64(1)))
	})

	It("reports registered presentation endpoints as JSON, each with a distinct snapshot id", func() {
		resp, err := http.Get("http://" + addr + "/api/presentation")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var body []struct {
			SnapshotID string `json:"snapshot_id"`
			Name       string `json:"name"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body).To(HaveLen(1))
		Expect(body[0].Name).To(Equal("ep0"))
		Expect(body[0].SnapshotID).NotTo(BeEmpty())

		second, err := http.Get("http://" + addr + "/api/presentation")
		Expect(err).NotTo(HaveOccurred())
		defer second.Body.Close()
		var secondBody []struct {
			SnapshotID string `json:"snapshot_id"`
		}
		Expect(json.NewDecoder(second.Body).Decode(&secondBody)).To(Succeed())
		Expect(secondBody[0].SnapshotID).NotTo(Equal(body[0].SnapshotID))
	})

	It("reports process resource usage as JSON", func() {
		resp, err := http.Get("http://" + addr + "/api/resource")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
