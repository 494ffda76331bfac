package dnscheck

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tinypm/backend/internal/domain"
)

var testZone = map[string][]string{
	"links.alice.dev.": {"tinypm.app."},
	"chain.alice.dev.": {"edge.example.net.", "tinypm.app."},
	"upper.alice.dev.": {"TinyPM.App."},
	"wrong.alice.dev.": {"elsewhere.example.com."},
}

func startDNSServer(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)

		q := req.Question[0]
		switch {
		case q.Name == "missing.alice.dev.":
			resp.Rcode = dns.RcodeNameError
		case q.Name == "broken.alice.dev.":
			resp.Rcode = dns.RcodeServerFailure
		default:
			owner := q.Name
			for _, target := range testZone[q.Name] {
				resp.Answer = append(resp.Answer, &dns.CNAME{
					Hdr:    dns.RR_Header{Name: owner, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 300},
					Target: target,
				})
				owner = target
			}
		}
		_ = w.WriteMsg(resp)
	})

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = server.ActivateAndServe() }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns server did not start")
	}
	t.Cleanup(func() { _ = server.Shutdown() })

	return pc.LocalAddr().String()
}

func TestVerifier_ResolveCNAME(t *testing.T) {
	addr := startDNSServer(t)
	v := NewVerifier(Config{Nameservers: []string{addr}, Timeout: 2 * time.Second}, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name    string
		domain  string
		want    []string
		wantErr error
	}{
		{"直接指向平台", "links.alice.dev", []string{"tinypm.app"}, nil},
		{"CNAME 链", "chain.alice.dev", []string{"edge.example.net", "tinypm.app"}, nil},
		{"大小写和末尾点归一化", "upper.alice.dev", []string{"tinypm.app"}, nil},
		{"指向其他主机", "wrong.alice.dev", []string{"elsewhere.example.com"}, nil},
		{"没有 CNAME", "plain.alice.dev", nil, ErrNoCNAME},
		{"域名不存在", "missing.alice.dev", nil, ErrNXDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ResolveCNAME(ctx, tt.domain)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, domain.IsKind(err, domain.ErrKindDNSError))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifier_ServerFailure(t *testing.T) {
	addr := startDNSServer(t)
	v := NewVerifier(Config{Nameservers: []string{addr}, Timeout: time.Second}, zap.NewNop())

	_, err := v.ResolveCNAME(context.Background(), "broken.alice.dev")
	require.Error(t, err)
	de, ok := domain.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindDNSError, de.Kind)
	assert.Contains(t, err.Error(), "SERVFAIL")
}

func TestVerifier_FallsBackToNextNameserver(t *testing.T) {
	addr := startDNSServer(t)

	// 先占用再释放一个端口，得到一个不会应答的地址
	dead, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.LocalAddr().String()
	require.NoError(t, dead.Close())

	v := NewVerifier(Config{Nameservers: []string{deadAddr, addr}, Timeout: 500 * time.Millisecond}, zap.NewNop())
	got, err := v.ResolveCNAME(context.Background(), "links.alice.dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"tinypm.app"}, got)
}

func TestNewVerifier_DefaultPort(t *testing.T) {
	v := NewVerifier(Config{Nameservers: []string{"1.1.1.1", "8.8.8.8:5353"}}, zap.NewNop())
	assert.Equal(t, []string{"1.1.1.1:53", "8.8.8.8:5353"}, v.nameservers)
	assert.Equal(t, 5*time.Second, v.timeout)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "tinypm.app", Normalize(" TinyPM.App. "))
	assert.Equal(t, "", Normalize("."))
}
