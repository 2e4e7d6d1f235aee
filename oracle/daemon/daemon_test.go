package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/GPTx-global/near-oracle/oracle/config"
	"github.com/GPTx-global/near-oracle/oracle/daemon"
	"github.com/GPTx-global/near-oracle/oracle/health"
	"github.com/GPTx-global/near-oracle/oracle/rpc/rpctest"
	"github.com/GPTx-global/near-oracle/oracle/types"
)

var _ = Describe("Daemon", func() {
	var (
		server *rpctest.Server
		cfg    *config.Config
	)

	BeforeEach(func() {
		server = rpctest.NewServer()
		server.SetDocument(`{"0":{"request_spec":"foo"}}`)

		home, err := os.MkdirTemp("", "oracled-daemon")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, home)

		cfg = config.Default(home)
		cfg.Chain.Endpoint = server.URL
		cfg.Oracle.RequestSpec = "foo"
		cfg.Oracle.PollInterval = config.Duration(10 * time.Millisecond)
		cfg.Health.Listen = "127.0.0.1:0"
		cfg.Health.Interval = config.Duration(20 * time.Millisecond)
		Expect(cfg.Validate()).To(Succeed())
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("a single cycle", func() {
		It("finds the request whose spec matches", func() {
			d, err := daemon.New(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())

			res := d.RunOnce(context.Background())
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Requests).To(Equal(1))
			Expect(res.Match).To(Equal(types.Found("0")))
		})

		It("reports NotFound when no spec matches", func() {
			cfg.Oracle.RequestSpec = "bar"
			d, err := daemon.New(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())

			Expect(d.RunOnce(context.Background()).Match).To(Equal(types.NotFound))
		})

		It("sends the path-style query to the configured contract", func() {
			d, err := daemon.New(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())
			d.RunOnce(context.Background())

			calls := server.Calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].Method).To(Equal("query"))
			Expect(calls[0].Params.Get("0").String()).To(Equal("call/v0.oracle.testnet/get_all_requests"))
			Expect(calls[0].Params.Get("1").String()).To(Equal("AQ4"))
		})

		It("classifies a node error as a network error", func() {
			server.SetRPCError("UNKNOWN_ACCOUNT")
			d, err := daemon.New(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())

			res := d.RunOnce(context.Background())
			Expect(errors.Is(res.Err, types.ErrNetwork)).To(BeTrue())
			Expect(res.Match).To(Equal(types.NotFound))
		})
	})

	Describe("the polling loop", func() {
		var d *daemon.Daemon

		BeforeEach(func() {
			var err error
			d, err = daemon.New(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Start()).To(Succeed())
		})

		AfterEach(func() {
			d.Stop()
		})

		It("reports matches on the results channel", func() {
			var res types.CycleResult
			Eventually(d.Results()).Should(Receive(&res))
			Expect(res.Match).To(Equal(types.Found("0")))
		})

		It("keeps polling after failed cycles", func() {
			server.SetRPCError("node is syncing")
			Eventually(func() bool {
				res := <-d.Results()
				return errors.Is(res.Err, types.ErrNetwork)
			}, "5s", "1ms").Should(BeTrue())

			server.SetDocument(`{"0":{"request_spec":"x"},"1":{"request_spec":"foo"}}`)
			Eventually(func() types.MatchResult {
				return (<-d.Results()).Match
			}, "5s", "1ms").Should(Equal(types.Found("1")))
		})

		It("serves the last cycle over HTTP", func() {
			Expect(d.HealthAddr()).NotTo(BeEmpty())

			Eventually(func() (int, error) {
				res, err := http.Get("http://" + d.HealthAddr() + "/status")
				if err != nil {
					return 0, err
				}
				defer res.Body.Close()
				return res.StatusCode, nil
			}).Should(Equal(http.StatusOK))

			res, err := http.Get("http://" + d.HealthAddr() + "/status")
			Expect(err).NotTo(HaveOccurred())
			defer res.Body.Close()

			body, err := io.ReadAll(res.Body)
			Expect(err).NotTo(HaveOccurred())

			var status health.CycleStatus
			Expect(json.Unmarshal(body, &status)).To(Succeed())
			Expect(status.Found).To(BeTrue())
			Expect(status.MatchID).To(Equal("0"))
		})

		It("is healthy while the node answers", func() {
			Eventually(d.Results()).Should(Receive())
			Eventually(d.Healthy).Should(BeTrue())
		})

		It("closes the results channel on Stop", func() {
			d.Stop()
			Eventually(func() bool {
				_, ok := <-d.Results()
				return ok
			}).Should(BeFalse())
		})
	})

	Describe("waiting for the node", func() {
		It("returns once the node answers status", func() {
			d, err := daemon.New(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())

			Expect(d.WaitForNode(context.Background())).To(Succeed())
			Expect(server.Calls()[0].Method).To(Equal("status"))
		})

		It("gives up after the configured attempts", func() {
			server.SetHTTPStatus(http.StatusServiceUnavailable)
			cfg.Chain.StartupAttempts = 1
			d, err := daemon.New(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())

			err = d.WaitForNode(context.Background())
			Expect(errors.Is(err, types.ErrNetwork)).To(BeTrue())
			Expect(server.Calls()).To(HaveLen(1))
		})

		It("is skipped when startup attempts is zero", func() {
			server.SetHTTPStatus(http.StatusServiceUnavailable)
			cfg.Chain.StartupAttempts = 0
			d, err := daemon.New(context.Background(), cfg)
			Expect(err).NotTo(HaveOccurred())

			Expect(d.WaitForNode(context.Background())).To(Succeed())
			Expect(server.Calls()).To(BeEmpty())
		})
	})

	It("rejects an unusable endpoint", func() {
		cfg.Chain.Endpoint = "ws://localhost:3030"
		_, err := daemon.New(context.Background(), cfg)
		Expect(err).To(HaveOccurred())
	})

	It("does not start the health server when disabled", func() {
		cfg.Health.Enabled = false
		d, err := daemon.New(context.Background(), cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Start()).To(Succeed())
		defer d.Stop()

		Expect(d.HealthAddr()).To(BeEmpty())
		Eventually(d.Results()).Should(Receive())
	})
})
