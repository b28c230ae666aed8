package fx

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// ecbPayload builds an SDMX-JSON body with one observation per period.
func ecbPayload(periods []string, values []string) string {
	var obs, dims []string
	for i, v := range values {
		obs = append(obs, fmt.Sprintf(`"%d":[%s,0,0,null,null]`, i, v))
	}
	for _, p := range periods {
		dims = append(dims, fmt.Sprintf(`{"id":%q,"name":%q}`, p, p))
	}
	return fmt.Sprintf(`{
	"dataSets":[{"series":{"0:0:0:0:0":{"observations":{%s}}}}],
	"structure":{"dimensions":{"observation":[{"id":"TIME_PERIOD","values":[%s]}]}}
}`, strings.Join(obs, ","), strings.Join(dims, ","))
}

var _ = Describe("ECBClient", func() {
	var (
		server   *httptest.Server
		client   *ECBClient
		payloads map[string]string
		status   int
		paths    []string
	)

	BeforeEach(func() {
		status = http.StatusOK
		paths = nil
		payloads = map[string]string{
			"RON": ecbPayload([]string{"2024-03-01", "2024-03-04", "2024-03-06"}, []string{"4.9700", "4.9701", "4.9800"}),
			"USD": ecbPayload([]string{"2024-03-01", "2024-03-04"}, []string{"1.0800", "1.0850"}),
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			paths = append(paths, r.URL.Path)
			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
			// path: /D.<CUR>.EUR.SP00.A
			parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), ".")
			body, ok := payloads[parts[1]]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if r.URL.Query().Get("format") != "jsondata" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, body)
		}))
		client = NewECBClient(server.URL, nil, WithRateLimit(0))
	})

	AfterEach(func() {
		server.Close()
	})

	It("should return the euro rate observed on or before the date", func() {
		q, err := client.FetchRate(context.Background(), "EUR", "RON", day(2024, 3, 5))
		Expect(err).NotTo(HaveOccurred())
		Expect(q.Rate.String()).To(Equal("4.9701"))
		Expect(q.ObservedOn).To(Equal(day(2024, 3, 4)))
		Expect(paths).To(ConsistOf("/D.RON.EUR.SP00.A"))
	})

	It("should derive cross rates through the euro", func() {
		q, err := client.FetchRate(context.Background(), "USD", "RON", day(2024, 3, 4))
		Expect(err).NotTo(HaveOccurred())
		Expect(q.Rate.StringFixed(4)).To(Equal("4.5807"))
		Expect(paths).To(HaveLen(2))
	})

	It("should invert the rate when the target is the euro", func() {
		q, err := client.FetchRate(context.Background(), "RON", "EUR", day(2024, 3, 1))
		Expect(err).NotTo(HaveOccurred())
		Expect(q.Rate.StringFixed(6)).To(Equal("0.201207"))
	})

	It("should fail when nothing was published in the window", func() {
		_, err := client.FetchRate(context.Background(), "EUR", "RON", day(2024, 2, 20))
		Expect(err).To(MatchError(ContainSubstring("no ecb observation")))
	})

	It("should fail on a non-2xx status", func() {
		status = http.StatusServiceUnavailable
		_, err := client.FetchRate(context.Background(), "EUR", "RON", day(2024, 3, 5))
		Expect(err).To(MatchError(ContainSubstring("503")))
	})
})
