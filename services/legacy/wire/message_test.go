package wire

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/libsv/go-bk/bec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/model"
)

var testMagic = [4]byte{0xa1, 0xcf, 0x7e, 0xac}

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()

	var buf bytes.Buffer

	n, err := WriteMessageN(&buf, msg, ProtocolVersion, testMagic)
	require.NoError(t, err)
	require.Equal(t, buf.Len(), n)

	read, got, payload, err := ReadMessageN(&buf, ProtocolVersion, testMagic)
	require.NoError(t, err)
	assert.Equal(t, n, read)
	assert.Equal(t, n-MessageHeaderSize, len(payload))
	assert.Equal(t, msg.Command(), got.Command())

	return got
}

func TestFrameLayout(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteMessage(&buf, NewMsgPing(0x0102030405060708), ProtocolVersion, testMagic))

	b := buf.Bytes()
	require.Len(t, b, MessageHeaderSize+8)

	assert.Equal(t, testMagic[:], b[0:4])
	assert.Equal(t, append([]byte("ping"), make([]byte, 8)...), b[4:16])
	assert.Equal(t, []byte{8, 0, 0, 0}, b[16:20])
	assert.Equal(t, chainhash.DoubleHashB(b[24:])[:4], b[20:24])
	assert.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, b[24:])
}

func TestVersionRoundTrip(t *testing.T) {
	me := NewNetAddressIPPort(net.ParseIP("10.0.0.1"), 44144, SFNodeNetwork)
	you := NewNetAddressIPPort(net.ParseIP("192.168.1.7"), 51472, 0)

	msg := NewMsgVersion(me, you, 0xdeadbeef, 1234)
	msg.AddService(SFNodeNetwork)
	require.NoError(t, msg.AddUserAgent("tessad", "1.0.0", "linux"))
	msg.DisableRelayTx = true

	got := roundTrip(t, msg).(*MsgVersion)

	assert.Equal(t, msg.ProtocolVersion, got.ProtocolVersion)
	assert.True(t, got.HasService(SFNodeNetwork))
	assert.Equal(t, msg.Timestamp.Unix(), got.Timestamp.Unix())
	assert.True(t, got.AddrMe.IP.Equal(me.IP))
	assert.Equal(t, uint16(51472), got.AddrYou.Port)
	assert.Equal(t, uint64(0xdeadbeef), got.Nonce)
	assert.Equal(t, "/tessawire:0.1.0/tessad:1.0.0(linux)/", got.UserAgent)
	assert.Equal(t, int32(1234), got.LastBlock)
	assert.True(t, got.DisableRelayTx)
}

func TestVersionWithoutRelayFlag(t *testing.T) {
	msg := NewMsgVersion(&NetAddress{}, &NetAddress{}, 1, 0)

	var buf bytes.Buffer
	require.NoError(t, msg.Encode(&buf, ProtocolVersion))

	// old peers end the payload after the start height
	payload := buf.Bytes()[:buf.Len()-1]

	got := &MsgVersion{}
	require.NoError(t, got.Decode(bytes.NewBuffer(payload), ProtocolVersion))
	assert.False(t, got.DisableRelayTx)
}

func TestUserAgentTooLong(t *testing.T) {
	msg := NewMsgVersion(&NetAddress{}, &NetAddress{}, 1, 0)
	require.Error(t, msg.AddUserAgent(string(make([]byte, MaxUserAgentLen)), "1"))
}

func TestAddrPortIsBigEndian(t *testing.T) {
	msg := NewMsgAddr()
	require.NoError(t, msg.AddAddress(NewNetAddressTimestamp(time.Unix(1700000000, 0), SFNodeNetwork, net.ParseIP("1.2.3.4"), 0x1234)))

	var buf bytes.Buffer
	require.NoError(t, msg.Encode(&buf, ProtocolVersion))

	b := buf.Bytes()
	require.Len(t, b, 1+maxNetAddressPayload)
	assert.Equal(t, []byte{0x12, 0x34}, b[len(b)-2:])

	got := roundTrip(t, msg).(*MsgAddr)
	require.Len(t, got.AddrList, 1)
	assert.Equal(t, uint16(0x1234), got.AddrList[0].Port)
	assert.Equal(t, int64(1700000000), got.AddrList[0].Timestamp.Unix())
	assert.True(t, got.AddrList[0].IP.Equal(net.ParseIP("1.2.3.4")))
}

func TestInvRoundTrip(t *testing.T) {
	msg := NewMsgGetData()

	for _, typ := range []InvType{InvTypeTx, InvTypeBlock, InvTypeTxLockRequest, InvTypeSpork} {
		hash := chainhash.HashH([]byte(typ.String()))
		require.NoError(t, msg.AddInvVect(NewInvVect(typ, &hash)))
	}

	got := roundTrip(t, msg).(*MsgGetData)
	assert.Equal(t, msg.InvList, got.InvList)
}

func TestInvLimit(t *testing.T) {
	msg := NewMsgInv()
	hash := chainhash.Hash{}

	for i := 0; i < MaxInvPerMsg; i++ {
		require.NoError(t, msg.AddInvVect(NewInvVect(InvTypeTx, &hash)))
	}

	require.Error(t, msg.AddInvVect(NewInvVect(InvTypeTx, &hash)))
}

func TestHeadersCarryZeroTxCount(t *testing.T) {
	msg := NewMsgHeaders()

	plain := &model.BlockHeader{Version: 3, Bits: 0x207fffff, Timestamp: 1}
	zc := &model.BlockHeader{Version: model.ZerocoinHeaderVersion, Bits: 0x207fffff, Timestamp: 2,
		AccumulatorCheckpoint: chainhash.HashH([]byte("acc"))}

	require.NoError(t, msg.AddBlockHeader(plain))
	require.NoError(t, msg.AddBlockHeader(zc))

	var buf bytes.Buffer
	require.NoError(t, msg.Encode(&buf, ProtocolVersion))
	assert.Equal(t, 1+model.BlockHeaderLen+1+model.ZerocoinBlockHeaderLen+1, buf.Len())

	got := roundTrip(t, msg).(*MsgHeaders)
	require.Len(t, got.Headers, 2)
	assert.Equal(t, plain.Hash(), got.Headers[0].Hash())
	assert.Equal(t, zc.AccumulatorCheckpoint, got.Headers[1].AccumulatorCheckpoint)

	// a non-zero transaction count is malformed
	b := buf.Bytes()
	b[1+model.BlockHeaderLen] = 1

	require.Error(t, (&MsgHeaders{}).Decode(bytes.NewBuffer(b), ProtocolVersion))
}

func TestLocatorRoundTrip(t *testing.T) {
	stop := chainhash.HashH([]byte("stop"))
	msg := NewMsgGetBlocks(&stop)

	for i := 0; i < 3; i++ {
		h := chainhash.HashH([]byte{byte(i)})
		require.NoError(t, msg.AddBlockLocatorHash(&h))
	}

	got := roundTrip(t, msg).(*MsgGetBlocks)
	assert.Equal(t, msg.Locator(), got.Locator())
	assert.Equal(t, stop, got.HashStop)
	assert.Equal(t, ProtocolVersion, got.ProtocolVersion)
}

func TestRejectHashOnlyForObjects(t *testing.T) {
	txReject := NewMsgReject(CmdTx, RejectInsufficientFee, "insufficient fee")
	txReject.Hash = chainhash.HashH([]byte("tx"))

	got := roundTrip(t, txReject).(*MsgReject)
	assert.Equal(t, txReject.Hash, got.Hash)
	assert.Equal(t, RejectInsufficientFee, got.Code)
	assert.Equal(t, "REJECT_INSUFFICIENTFEE", got.Code.String())

	verReject := NewMsgReject(CmdVersion, RejectObsolete, "obsolete")
	verReject.Hash = chainhash.HashH([]byte("ignored"))

	gotVer := roundTrip(t, verReject).(*MsgReject)
	assert.Equal(t, chainhash.Hash{}, gotVer.Hash)
}

func TestSporkSignature(t *testing.T) {
	key, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	other, err := bec.NewPrivateKey(bec.S256())
	require.NoError(t, err)

	msg := &MsgSpork{ID: 10001, Value: 1, TimeSigned: 1700000000}
	require.NoError(t, msg.Sign(key))

	got := roundTrip(t, msg).(*MsgSpork)
	assert.True(t, got.Verify(key.PubKey().SerialiseCompressed()))
	assert.False(t, got.Verify(other.PubKey().SerialiseCompressed()))
	assert.Equal(t, msg.Hash(), got.Hash())

	got.Value = 0
	assert.False(t, got.Verify(key.PubKey().SerialiseCompressed()))
}

func TestReadMessageErrors(t *testing.T) {
	encode := func(msg Message) []byte {
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, msg, ProtocolVersion, testMagic))

		return buf.Bytes()
	}

	t.Run("wrong network", func(t *testing.T) {
		b := encode(NewMsgPing(1))

		_, _, err := ReadMessage(bytes.NewReader(b), ProtocolVersion, [4]byte{1, 2, 3, 4})

		var msgErr *MessageError
		require.ErrorAs(t, err, &msgErr)
	})

	t.Run("bad checksum", func(t *testing.T) {
		b := encode(NewMsgPing(1))
		b[20] ^= 0xff

		_, _, err := ReadMessage(bytes.NewReader(b), ProtocolVersion, testMagic)

		var msgErr *MessageError
		require.ErrorAs(t, err, &msgErr)
		assert.Contains(t, msgErr.Description, "checksum")
	})

	t.Run("oversize payload", func(t *testing.T) {
		b := encode(NewMsgPing(1))
		b[16], b[17], b[18], b[19] = 0xff, 0xff, 0xff, 0x0f

		_, _, err := ReadMessage(bytes.NewReader(b), ProtocolVersion, testMagic)

		var msgErr *MessageError
		require.ErrorAs(t, err, &msgErr)
	})

	t.Run("payload above message limit", func(t *testing.T) {
		b := encode(&MsgVerAck{})
		b[16] = 1
		b = append(b, 0)

		_, _, err := ReadMessage(bytes.NewReader(b), ProtocolVersion, testMagic)

		var msgErr *MessageError
		require.ErrorAs(t, err, &msgErr)
	})

	t.Run("unknown command is skipped", func(t *testing.T) {
		b := encode(NewMsgPing(7))
		copy(b[4:16], append([]byte("alert"), make([]byte, 7)...))

		r := bytes.NewReader(append(b, encode(NewMsgPong(9))...))

		_, _, err := ReadMessage(r, ProtocolVersion, testMagic)

		var unknown *UnknownCommandError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "alert", unknown.Command)

		msg, _, err := ReadMessage(r, ProtocolVersion, testMagic)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), msg.(*MsgPong).Nonce)
	})
}

func TestServiceFlagString(t *testing.T) {
	assert.Equal(t, "0x0", ServiceFlag(0).String())
	assert.Equal(t, "SFNodeNetwork|SFNodeBloom", (SFNodeNetwork | SFNodeBloom).String())
	assert.Equal(t, "SFNodeNetwork|0x80", (SFNodeNetwork | 0x80).String())
}
