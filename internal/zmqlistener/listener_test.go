package zmqlistener

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingRawTx struct{ got [][]byte }

func (r *recordingRawTx) HandleRawTx(ctx context.Context, raw []byte) { r.got = append(r.got, raw) }

type recordingHashBlock struct{ got [][]byte }

func (r *recordingHashBlock) HandleHashBlock(ctx context.Context, blockHash []byte) {
	r.got = append(r.got, blockHash)
}

func TestListener_DispatchRawTx_ForwardsPayloadFrame(t *testing.T) {
	rawTx := &recordingRawTx{}
	l := New("tcp://127.0.0.1:0", "", rawTx, &recordingHashBlock{}, nil)

	l.dispatchRawTx(context.Background(), [][]byte{[]byte(topicRawTx), []byte("payload")})

	assert.Equal(t, [][]byte{[]byte("payload")}, rawTx.got)
}

func TestListener_DispatchRawTx_IgnoresShortFrame(t *testing.T) {
	rawTx := &recordingRawTx{}
	l := New("tcp://127.0.0.1:0", "", rawTx, &recordingHashBlock{}, nil)

	l.dispatchRawTx(context.Background(), [][]byte{[]byte(topicRawTx)})

	assert.Empty(t, rawTx.got)
}

func TestListener_DispatchHashBlock_ForwardsPayloadFrame(t *testing.T) {
	hb := &recordingHashBlock{}
	l := New("tcp://127.0.0.1:0", "", &recordingRawTx{}, hb, nil)

	l.dispatchHashBlock(context.Background(), [][]byte{[]byte(topicHashBlock), []byte("blockhash")})

	assert.Equal(t, [][]byte{[]byte("blockhash")}, hb.got)
}

func TestListener_New_HashBlockEndpointDefaultsToRawTxEndpoint(t *testing.T) {
	l := New("tcp://127.0.0.1:28332", "", &recordingRawTx{}, &recordingHashBlock{}, nil)
	assert.Equal(t, "tcp://127.0.0.1:28332", l.hashBlockEndpoint)
}

func TestListener_New_HashBlockEndpointCanDifferFromRawTxEndpoint(t *testing.T) {
	l := New("tcp://node-a:28332", "tcp://node-b:28333", &recordingRawTx{}, &recordingHashBlock{}, nil)
	assert.Equal(t, "tcp://node-a:28332", l.rawTxEndpoint)
	assert.Equal(t, "tcp://node-b:28333", l.hashBlockEndpoint)
}

func TestListener_Run_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New("tcp://127.0.0.1:1", "", &recordingRawTx{}, &recordingHashBlock{}, nil)
	cancel()

	err := l.Run(ctx)
	assert.NoError(t, err)
}
