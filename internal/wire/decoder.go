package wire

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	signatureLen = 64
	pubkeyLen    = 32
	versionMask  = 0x80
)

// Decoder turns RawUpdates into DecodedTransactions. Instructions of
// programs outside the filter are skipped without resolving accounts.
type Decoder struct {
	programs map[solana.PublicKey]struct{}
}

// NewDecoder creates a decoder that keeps instructions of the given
// programs. With no programs every instruction is kept.
func NewDecoder(programs ...solana.PublicKey) *Decoder {
	d := &Decoder{}
	if len(programs) > 0 {
		d.programs = make(map[solana.PublicKey]struct{}, len(programs))
		for _, p := range programs {
			d.programs[p] = struct{}{}
		}
	}
	return d
}

func (d *Decoder) wants(program solana.PublicKey) bool {
	if d.programs == nil {
		return true
	}
	_, ok := d.programs[program]
	return ok
}

// Decode parses the update. A returned error means the envelope itself is
// unreadable and no instructions were produced. Per-instruction failures
// are reported in DecodedTransaction.Faults.
func (d *Decoder) Decode(u *RawUpdate) (tx *DecodedTransaction, err error) {
	// Untrusted input; a library panic must surface as a decode error.
	defer func() {
		if r := recover(); r != nil {
			tx = nil
			err = malformed(TransactionSlot, "decoder panic: %v", r)
		}
	}()

	if u == nil || len(u.Data) == 0 {
		return nil, malformed(TransactionSlot, "empty payload")
	}

	dec := bin.NewBinDecoder(u.Data)

	numSigs, err := dec.ReadCompactU16()
	if err != nil {
		return nil, malformed(TransactionSlot, "signature count: %v", err)
	}
	if numSigs == 0 {
		return nil, malformed(TransactionSlot, "no signatures")
	}
	if numSigs*signatureLen > dec.Remaining() {
		return nil, malformed(TransactionSlot, "signatures truncated")
	}
	firstSig, err := dec.ReadNBytes(signatureLen)
	if err != nil {
		return nil, malformed(TransactionSlot, "signature: %v", err)
	}
	if _, err := dec.ReadNBytes((numSigs - 1) * signatureLen); err != nil {
		return nil, malformed(TransactionSlot, "signatures: %v", err)
	}

	prefix, err := dec.Peek(1)
	if err != nil {
		return nil, malformed(TransactionSlot, "message header: %v", err)
	}
	versioned := prefix[0]&versionMask != 0
	if versioned {
		if version := prefix[0] &^ versionMask; version != 0 {
			return nil, malformed(TransactionSlot, "unsupported message version %d", version)
		}
		if _, err := dec.ReadNBytes(1); err != nil {
			return nil, malformed(TransactionSlot, "message version: %v", err)
		}
	}

	header, err := dec.ReadNBytes(3)
	if err != nil {
		return nil, malformed(TransactionSlot, "message header: %v", err)
	}
	numRequired := int(header[0])
	if numRequired != numSigs {
		return nil, malformed(TransactionSlot, "header wants %d signatures, payload has %d", numRequired, numSigs)
	}

	numKeys, err := dec.ReadCompactU16()
	if err != nil {
		return nil, malformed(TransactionSlot, "account key count: %v", err)
	}
	if numKeys < numRequired || numKeys*pubkeyLen > dec.Remaining() {
		return nil, malformed(TransactionSlot, "account keys truncated")
	}
	roSigned, roUnsigned := int(header[1]), int(header[2])
	if roSigned > numRequired || roUnsigned > numKeys-numRequired {
		return nil, malformed(TransactionSlot, "header readonly counts exceed key count")
	}
	keys := make([]solana.PublicKey, 0, numKeys+len(u.LoadedWritable)+len(u.LoadedReadonly))
	for i := 0; i < numKeys; i++ {
		raw, err := dec.ReadNBytes(pubkeyLen)
		if err != nil {
			return nil, malformed(TransactionSlot, "account key %d: %v", i, err)
		}
		keys = append(keys, solana.PublicKeyFromBytes(raw))
	}
	if versioned {
		keys = append(keys, u.LoadedWritable...)
		keys = append(keys, u.LoadedReadonly...)
	}

	if _, err := dec.ReadNBytes(pubkeyLen); err != nil {
		return nil, malformed(TransactionSlot, "recent blockhash: %v", err)
	}

	numIx, err := dec.ReadCompactU16()
	if err != nil {
		return nil, malformed(TransactionSlot, "instruction count: %v", err)
	}

	// Writable keys form a prefix of the signed and unsigned static ranges,
	// followed by loaded writable addresses.
	isWritable := func(idx int) bool {
		switch {
		case idx < numRequired:
			return idx < numRequired-roSigned
		case idx < numKeys:
			return idx < numKeys-roUnsigned
		default:
			return idx < numKeys+len(u.LoadedWritable)
		}
	}

	tx = &DecodedTransaction{
		Slot:        u.Slot,
		AccountKeys: keys,
		NumSigners:  numRequired,
	}
	copy(tx.Signature[:], firstSig)

	for slot := 0; slot < numIx; slot++ {
		programIdx, accountIdx, data, ferr := readCompiled(dec)
		if ferr != nil {
			// Framing is lost, so this slot and every later one is unreadable.
			for s := slot; s < numIx; s++ {
				tx.Faults = append(tx.Faults, malformed(s, "truncated: %v", ferr))
			}
			return tx, nil
		}
		if int(programIdx) >= len(keys) {
			tx.Faults = append(tx.Faults, malformed(slot, "program index %d out of range (%d keys)", programIdx, len(keys)))
			continue
		}
		program := keys[programIdx]
		if !d.wants(program) {
			continue
		}

		ix := DecodedInstruction{
			ProgramID: program,
			Accounts:  make([]solana.PublicKey, len(accountIdx)),
			Data:      data,
			Signature: tx.Signature,
			Index:     slot,
		}
		bad := false
		for pos, idx := range accountIdx {
			if int(idx) >= len(keys) {
				tx.Faults = append(tx.Faults, malformed(slot, "account index %d out of range (%d keys)", idx, len(keys)))
				bad = true
				break
			}
			ix.Accounts[pos] = keys[idx]
			if pos < 64 {
				if int(idx) < numRequired {
					ix.signers |= 1 << uint(pos)
				}
				if isWritable(int(idx)) {
					ix.writable |= 1 << uint(pos)
				}
			}
		}
		if bad {
			continue
		}
		tx.Instructions = append(tx.Instructions, ix)
	}

	if versioned {
		if err := skipLookups(dec); err != nil {
			tx.Faults = append(tx.Faults, malformed(TransactionSlot, "address table lookups: %v", err))
		}
	}
	if dec.Remaining() != 0 {
		tx.Faults = append(tx.Faults, malformed(TransactionSlot, "%d trailing bytes", dec.Remaining()))
	}

	if len(u.TokenBalances) > 0 {
		tx.tokenAccounts = make(map[solana.PublicKey]TokenBalance, len(u.TokenBalances))
		for _, tb := range u.TokenBalances {
			if tb.AccountIndex >= 0 && tb.AccountIndex < len(keys) {
				tx.tokenAccounts[keys[tb.AccountIndex]] = tb
			}
		}
	}

	return tx, nil
}

// readCompiled reads one compiled instruction. Returned slices alias the
// decoder buffer.
func readCompiled(dec *bin.Decoder) (uint8, []byte, []byte, error) {
	programIdx, err := dec.ReadUint8()
	if err != nil {
		return 0, nil, nil, fmt.Errorf("program index: %w", err)
	}
	numAccounts, err := dec.ReadCompactU16()
	if err != nil {
		return 0, nil, nil, fmt.Errorf("account count: %w", err)
	}
	if numAccounts > dec.Remaining() {
		return 0, nil, nil, fmt.Errorf("accounts: want %d bytes, have %d", numAccounts, dec.Remaining())
	}
	accounts, err := dec.ReadNBytes(numAccounts)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("accounts: %w", err)
	}
	dataLen, err := dec.ReadCompactU16()
	if err != nil {
		return 0, nil, nil, fmt.Errorf("data length: %w", err)
	}
	if dataLen > dec.Remaining() {
		return 0, nil, nil, fmt.Errorf("data: want %d bytes, have %d", dataLen, dec.Remaining())
	}
	data, err := dec.ReadNBytes(dataLen)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("data: %w", err)
	}
	return programIdx, accounts, data, nil
}

func skipLookups(dec *bin.Decoder) error {
	n, err := dec.ReadCompactU16()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := dec.ReadNBytes(pubkeyLen); err != nil {
			return fmt.Errorf("table %d key: %w", i, err)
		}
		for _, kind := range []string{"writable", "readonly"} {
			cnt, err := dec.ReadCompactU16()
			if err != nil {
				return fmt.Errorf("table %d %s count: %w", i, kind, err)
			}
			if cnt > dec.Remaining() {
				return fmt.Errorf("table %d %s indexes truncated", i, kind)
			}
			if _, err := dec.ReadNBytes(cnt); err != nil {
				return fmt.Errorf("table %d %s indexes: %w", i, kind, err)
			}
		}
	}
	return nil
}
