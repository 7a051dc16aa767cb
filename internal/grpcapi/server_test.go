package grpcapi

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/claimtype/internal/claim"
	"github.com/banshee-data/claimtype/internal/features"
	"github.com/banshee-data/claimtype/internal/model"
	"github.com/banshee-data/claimtype/internal/predictor"
	"github.com/banshee-data/claimtype/internal/testutil"
)

func fixturePredictor(t *testing.T) *predictor.Predictor {
	t.Helper()
	res, err := predictor.Load(context.Background(), predictor.Config{ModelPath: testutil.WriteXGBoostModel(t)})
	require.NoError(t, err)
	t.Cleanup(func() { res.Close() })
	return predictor.New(res)
}

// dial serves s over an in-memory listener and returns a connection to it.
func dial(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
		assert.NoError(t, <-done)
	})
	return conn
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestPredict_Defaults(t *testing.T) {
	t.Parallel()
	client := NewClient(dial(t, NewServer(fixturePredictor(t), nil)))

	out, err := client.Predict(context.Background(), &structpb.Struct{})
	require.NoError(t, err)

	m := out.AsMap()
	assert.Equal(t, "MED ONLY", m["label"])
	assert.Equal(t, float64(testutil.FixtureNoAttorneyClass), m["class_id"])
	probs, ok := m["probabilities"].([]interface{})
	require.True(t, ok)
	assert.Len(t, probs, claim.NumClasses)
	assert.NotEmpty(t, m["id"])
}

func TestPredict_PartialState(t *testing.T) {
	t.Parallel()
	client := NewClient(dial(t, NewServer(fixturePredictor(t), nil)))

	out, err := client.Predict(context.Background(), mustStruct(t, map[string]interface{}{
		"attorney_representative": true,
		"birth_year":              1975,
		"district_name":           "BUFFALO",
	}))
	require.NoError(t, err)

	m := out.AsMap()
	assert.Equal(t, "TEMPORARY", m["label"])
	form, ok := m["form"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1975), form["birth_year"])
	assert.Equal(t, "BUFFALO", form["district_name"])
	assert.Equal(t, "1", form["medical_fee_region"], "absent keys keep their defaults")
}

func TestPredictState(t *testing.T) {
	t.Parallel()
	pred := fixturePredictor(t)
	client := NewClient(dial(t, NewServer(pred, nil)))

	state := pred.Resources().Defaults()
	state.AttorneyRepresentative = true
	out, err := client.PredictState(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "TEMPORARY", out.AsMap()["label"])
}

func TestPredict_InvalidArgument(t *testing.T) {
	t.Parallel()
	client := NewClient(dial(t, NewServer(fixturePredictor(t), nil)))

	tests := []struct {
		name string
		in   map[string]interface{}
	}{
		{"out of range", map[string]interface{}{"birth_year": 1850}},
		{"wrong type", map[string]interface{}{"ime_4_count": "many"}},
		{"unknown district", map[string]interface{}{"district_name": "ATLANTIS"}},
		{"unknown key", map[string]interface{}{"shoe_size": 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Predict(context.Background(), mustStruct(t, tt.in))
			require.Error(t, err)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
}

// shortProba returns seven probabilities, one short of the label count.
type shortProba struct{}

func (shortProba) Predict(context.Context, features.Vector) (int, error) { return 0, nil }
func (shortProba) PredictProba(context.Context, features.Vector) ([]float64, error) {
	return make([]float64, 7), nil
}
func (shortProba) Info() model.Info { return model.Info{Format: "stub", NumClass: 7} }
func (shortProba) Close() error     { return nil }

func TestPredict_PredictionErrorIsInternal(t *testing.T) {
	t.Parallel()
	res, err := predictor.NewResources(shortProba{}, features.DefaultTables())
	require.NoError(t, err)
	client := NewClient(dial(t, NewServer(predictor.New(res), nil)))

	_, err = client.Predict(context.Background(), &structpb.Struct{})
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Contains(t, st.Message(), predictor.StageProbabilities)
}

func TestHalted(t *testing.T) {
	t.Parallel()
	loadErr := &predictor.LoadError{Path: "tuned_XGB.json", Err: errors.New("no such file")}
	conn := dial(t, NewServer(nil, loadErr))

	_, err := NewClient(conn).Predict(context.Background(), &structpb.Struct{})
	require.Error(t, err)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Unavailable, st.Code())
	assert.Contains(t, st.Message(), "error loading model tuned_XGB.json")

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestHealth_Serving(t *testing.T) {
	t.Parallel()
	conn := dial(t, NewServer(fixturePredictor(t), nil))
	hc := healthpb.NewHealthClient(conn)

	for _, svc := range []string{"", ServiceName} {
		resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: svc})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus(), "service %q", svc)
	}
}

func TestNewServer_NilPredictorHalts(t *testing.T) {
	t.Parallel()
	s := NewServer(nil, nil)
	assert.True(t, s.Halted())

	_, err := s.Predict(context.Background(), &structpb.Struct{})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestInterceptorSeesFullMethod(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		seen []string
	)
	gs := NewGRPCServer(NewServer(fixturePredictor(t), nil), grpc.UnaryInterceptor(
		func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (interface{}, error) {
			mu.Lock()
			seen = append(seen, info.FullMethod)
			mu.Unlock()
			return h(ctx, req)
		}))
	lis := bufconn.Listen(1 << 20)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	_, err = NewClient(conn).Predict(context.Background(), &structpb.Struct{})
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/claimtype.v1.ClaimPredictor/Predict"}, seen)
}
