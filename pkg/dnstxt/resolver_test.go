package dnstxt

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startServer 在本地UDP端口启动一个只应答TXT记录的DNS服务
func startServer(t *testing.T, zone map[string][]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		values, ok := zone[q.Name]
		if !ok {
			m.Rcode = dns.RcodeNameError
		}
		for _, v := range values {
			rr, err := dns.NewRR(fmt.Sprintf("%s 60 IN TXT %q", q.Name, v))
			if err == nil {
				m.Answer = append(m.Answer, rr)
			}
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestLookupTXT(t *testing.T) {
	addr := startServer(t, map[string][]string{
		"txt.us-east-1.example.com.": {"us-east-1a.example.com us-east-1b.example.com"},
		"txt.us-east-1a.example.com.": {"eureka-1.example.com eureka-2.example.com"},
	})

	r, err := New(WithServers(addr), WithTimeout(time.Second), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	records, err := r.LookupTXT(context.Background(), "txt.us-east-1.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1a.example.com us-east-1b.example.com"}, records)

	records, err = r.LookupTXT(context.Background(), "txt.us-east-1a.example.com.")
	require.NoError(t, err)
	assert.Equal(t, []string{"eureka-1.example.com eureka-2.example.com"}, records)
}

func TestLookupTXTNotFound(t *testing.T) {
	addr := startServer(t, map[string][]string{})

	r, err := New(WithServers(addr), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	_, err = r.LookupTXT(context.Background(), "txt.missing.example.com")
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestLookupTXTFallsBackToNextServer(t *testing.T) {
	dead, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.LocalAddr().String()
	require.NoError(t, dead.Close())

	addr := startServer(t, map[string][]string{"txt.zone.example.com.": {"a.example.com"}})

	r, err := New(WithServers(deadAddr, addr), WithTimeout(200*time.Millisecond), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	records, err := r.LookupTXT(context.Background(), "txt.zone.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com"}, records)
}

func TestNewFromResolvConf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte("nameserver 10.0.0.2\nnameserver 10.0.0.3\n"), 0o644))

	r, err := New(WithResolvConf(path))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.2:53", "10.0.0.3:53"}, r.Servers())

	_, err = New(WithResolvConf(filepath.Join(t.TempDir(), "missing")))
	assert.Error(t, err)
}

func TestWithDefaultPort(t *testing.T) {
	assert.Equal(t, "8.8.8.8:53", withDefaultPort("8.8.8.8", "53"))
	assert.Equal(t, "8.8.8.8:5353", withDefaultPort("8.8.8.8:5353", "53"))
	assert.Equal(t, "[::1]:53", withDefaultPort("::1", "53"))
}
