package client

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// borshWriter wraps a borsh encoder and keeps the first error so that
// account and instruction layouts read as a flat list of fields.
type borshWriter struct {
	enc *bin.Encoder
	err error
}

func (w *borshWriter) do(fn func() error) {
	if w.err == nil {
		w.err = fn()
	}
}

func (w *borshWriter) raw(b []byte) { w.do(func() error { return w.enc.WriteBytes(b, false) }) }
func (w *borshWriter) u8(v uint8) { w.do(func() error { return w.enc.WriteUint8(v) }) }
func (w *borshWriter) boolean(v bool) { w.do(func() error { return w.enc.WriteBool(v) }) }
func (w *borshWriter) i64(v int64) { w.do(func() error { return w.enc.WriteInt64(v, bin.LE) }) }
func (w *borshWriter) u64(v uint64) { w.do(func() error { return w.enc.WriteUint64(v, bin.LE) }) }
func (w *borshWriter) str(v string) { w.do(func() error { return w.enc.WriteString(v) }) }
func (w *borshWriter) pubkey(v solana.PublicKey) { w.raw(v[:]) }
func (w *borshWriter) option(some bool) { w.do(func() error { return w.enc.WriteOption(some) }) }
func (w *borshWriter) length(n int) { w.do(func() error { return w.enc.WriteLength(n) }) }

func (w *borshWriter) optI64(v *int64) {
	w.option(v != nil)
	if v != nil {
		w.i64(*v)
	}
}

func (w *borshWriter) optU64(v *uint64) {
	w.option(v != nil)
	if v != nil {
		w.u64(*v)
	}
}

func (w *borshWriter) optU8(v *uint8) {
	w.option(v != nil)
	if v != nil {
		w.u8(*v)
	}
}

func (w *borshWriter) optStr(v *string) {
	w.option(v != nil)
	if v != nil {
		w.str(*v)
	}
}

func (w *borshWriter) optPubkey(v *solana.PublicKey) {
	w.option(v != nil)
	if v != nil {
		w.pubkey(*v)
	}
}

func (w *borshWriter) pubkeys(v []solana.PublicKey) {
	w.length(len(v))
	for _, pk := range v {
		w.pubkey(pk)
	}
}

// borshReader is the decoding counterpart of borshWriter.
type borshReader struct {
	dec *bin.Decoder
	err error
}

func (r *borshReader) fail(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

func (r *borshReader) raw(n int) []byte {
	if r.err != nil {
		return nil
	}
	b, err := r.dec.ReadNBytes(n)
	r.fail(err)
	return b
}

func (r *borshReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	r.fail(err)
	return v
}

func (r *borshReader) boolean() bool {
	if r.err != nil {
		return false
	}
	v, err := r.dec.ReadBool()
	r.fail(err)
	return v
}

func (r *borshReader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadInt64(bin.LE)
	r.fail(err)
	return v
}

func (r *borshReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(bin.LE)
	r.fail(err)
	return v
}

func (r *borshReader) str() string {
	if r.err != nil {
		return ""
	}
	v, err := r.dec.ReadString()
	r.fail(err)
	return v
}

func (r *borshReader) pubkey() solana.PublicKey {
	return solana.PublicKeyFromBytes(r.pad(r.raw(solana.PublicKeyLength)))
}

func (r *borshReader) option() bool {
	if r.err != nil {
		return false
	}
	v, err := r.dec.ReadOption()
	r.fail(err)
	return v
}

func (r *borshReader) length(elemSize int) int {
	if r.err != nil {
		return 0
	}
	n, err := r.dec.ReadLength()
	if err != nil {
		r.fail(err)
		return 0
	}
	if elemSize > 0 && n*elemSize > r.dec.Remaining() {
		r.fail(fmt.Errorf("vector length %d exceeds remaining data", n))
		return 0
	}
	return n
}

// pad keeps PublicKeyFromBytes from panicking after a short read.
func (r *borshReader) pad(b []byte) []byte {
	if len(b) == solana.PublicKeyLength {
		return b
	}
	return make([]byte, solana.PublicKeyLength)
}

func (r *borshReader) optI64() *int64 {
	if !r.option() {
		return nil
	}
	v := r.i64()
	return &v
}

func (r *borshReader) optU64() *uint64 {
	if !r.option() {
		return nil
	}
	v := r.u64()
	return &v
}

func (r *borshReader) optU8() *uint8 {
	if !r.option() {
		return nil
	}
	v := r.u8()
	return &v
}

func (r *borshReader) optStr() *string {
	if !r.option() {
		return nil
	}
	v := r.str()
	return &v
}

func (r *borshReader) optPubkey() *solana.PublicKey {
	if !r.option() {
		return nil
	}
	v := r.pubkey()
	return &v
}

func (r *borshReader) pubkeys() []solana.PublicKey {
	n := r.length(solana.PublicKeyLength)
	out := make([]solana.PublicKey, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.pubkey())
	}
	return out
}
