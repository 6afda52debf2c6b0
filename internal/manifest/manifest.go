// Package manifest decodes the fixed CrAU payload header and the
// DeltaArchiveManifest protobuf message that follows it.
//
// The real Android update_engine manifest is a protobuf message
// (chromeos_update_engine.DeltaArchiveManifest); spec.md treats the
// generated message definitions as an external collaborator ("assumed
// available as a decoded data structure"). Rather than vendoring a
// protoc-generated file for a .proto this module never compiles, the subset
// of fields the extractor needs is decoded directly off the wire with
// google.golang.org/protobuf/encoding/protowire — the same module the pack's
// example repos depend on for protobuf handling. Field numbers follow the
// public AOSP update_metadata.proto layout; see DESIGN.md for the one field
// (SecurityPatchLevel) whose number is a best-effort guess rather than a
// confirmed constant.
package manifest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Magic is the four-byte prefix every payload begins with.
const Magic = "CrAU"

// SupportedVersion is the only payload major version this extractor reads.
const SupportedVersion = 2

// DefaultBlockSize is used when the manifest omits block_size.
const DefaultBlockSize = 4096

// Header is the fixed, big-endian prefix of a payload file.
type Header struct {
	Magic                 [4]byte
	Version               uint64
	ManifestSize          uint64
	MetadataSignatureSize uint32
}

// ReadHeader reads and validates the fixed header from r. It does not
// consume the manifest or signature bytes that follow.
func ReadHeader(r io.Reader) (Header, error) {
	var hdr Header
	if err := binary.Read(r, binary.BigEndian, &hdr.Magic); err != nil {
		return hdr, fmt.Errorf("read magic: %w", err)
	}
	if string(hdr.Magic[:]) != Magic {
		return hdr, fmt.Errorf("invalid payload: bad magic %q", hdr.Magic[:])
	}
	if err := binary.Read(r, binary.BigEndian, &hdr.Version); err != nil {
		return hdr, fmt.Errorf("read version: %w", err)
	}
	if hdr.Version != SupportedVersion {
		return hdr, fmt.Errorf("invalid payload: unsupported version %d", hdr.Version)
	}
	if err := binary.Read(r, binary.BigEndian, &hdr.ManifestSize); err != nil {
		return hdr, fmt.Errorf("read manifest size: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &hdr.MetadataSignatureSize); err != nil {
		return hdr, fmt.Errorf("read metadata signature size: %w", err)
	}
	return hdr, nil
}

// Loaded is everything the manifest loader (spec §4.2) produces: the decoded
// manifest plus the absolute byte offset at which operation data begins.
type Loaded struct {
	Manifest   *DeltaArchiveManifest
	DataOffset int64
}

// Load reads the header, manifest and metadata signature from r (which must
// be positioned at the start of the payload) and returns the decoded
// manifest along with data_offset: the absolute position immediately after
// the metadata signature, where operation payloads begin.
func Load(r io.ReadSeeker) (*Loaded, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if hdr.ManifestSize == 0 {
		return nil, errors.New("invalid payload: manifest length is zero")
	}

	manifestBytes := make([]byte, hdr.ManifestSize)
	if _, err := io.ReadFull(r, manifestBytes); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	if hdr.MetadataSignatureSize > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(hdr.MetadataSignatureSize)); err != nil {
			return nil, fmt.Errorf("skip metadata signature: %w", err)
		}
	}

	dataOffset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	m, err := Decode(manifestBytes)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	return &Loaded{Manifest: m, DataOffset: dataOffset - start}, nil
}

// Operation types an install operation can carry. Numeric values follow the
// upstream update_metadata.proto InstallOperation.Type enum.
type OperationType int32

const (
	OpReplace      OperationType = 0
	OpReplaceBz    OperationType = 1
	OpMove         OperationType = 2 // deprecated upstream; unknown here
	OpBsdiff       OperationType = 3 // deprecated upstream; unknown here
	OpSourceCopy   OperationType = 4
	OpSourceBsdiff OperationType = 5
	OpZero         OperationType = 6
	OpDiscard      OperationType = 7 // deprecated upstream; unknown here
	OpReplaceXz    OperationType = 8
	OpPuffdiff     OperationType = 9 // unsupported; treated as unknown
	OpBrotliBsdiff OperationType = 10
	OpZstd         OperationType = 14
)

func (t OperationType) String() string {
	switch t {
	case OpReplace:
		return "REPLACE"
	case OpReplaceBz:
		return "REPLACE_BZ"
	case OpSourceCopy:
		return "SOURCE_COPY"
	case OpSourceBsdiff:
		return "SOURCE_BSDIFF"
	case OpZero:
		return "ZERO"
	case OpReplaceXz:
		return "REPLACE_XZ"
	case OpBrotliBsdiff:
		return "BROTLI_BSDIFF"
	case OpZstd:
		return "ZSTD"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
}

// IsDifferential reports whether this operation type requires an old
// partition image (spec §3: SourceCopy, SourceBsdiff, BrotliBsdiff).
func (t OperationType) IsDifferential() bool {
	switch t {
	case OpSourceCopy, OpSourceBsdiff, OpBrotliBsdiff:
		return true
	default:
		return false
	}
}

// Extent is a contiguous (start_block, num_blocks) region expressed in
// block_size units.
type Extent struct {
	StartBlock uint64
	NumBlocks  uint64
}

// Bytes returns the byte length of the extent under the given block size.
func (e Extent) Bytes(blockSize uint64) uint64 { return e.NumBlocks * blockSize }

// PartitionInfo carries a partition's announced size and expected hash.
type PartitionInfo struct {
	Size uint64
	Hash []byte
}

// InstallOperation is one atomic instruction within a partition's update.
type InstallOperation struct {
	Type           OperationType
	DataOffset     uint64
	DataLength     uint64
	SrcExtents     []Extent
	DstExtents     []Extent
	DataSHA256Hash []byte
}

// PartitionUpdate describes everything needed to materialize one partition.
type PartitionUpdate struct {
	PartitionName    string
	OldPartitionInfo *PartitionInfo
	NewPartitionInfo *PartitionInfo
	Operations       []InstallOperation
}

// DstByteSize returns the total bytes this partition's operations are
// expected to produce, summed over all destination extents.
func (p *PartitionUpdate) DstByteSize(blockSize uint64) uint64 {
	var total uint64
	for _, op := range p.Operations {
		for _, ext := range op.DstExtents {
			total += ext.Bytes(blockSize)
		}
	}
	return total
}

// IsDifferential reports whether any of this partition's operations requires
// an old partition image.
func (p *PartitionUpdate) IsDifferential() bool {
	for _, op := range p.Operations {
		if op.Type.IsDifferential() {
			return true
		}
	}
	return false
}

// DstBlockCount returns the total number of destination blocks referenced by
// this partition's operations.
func (p *PartitionUpdate) DstBlockCount() uint64 {
	var total uint64
	for _, op := range p.Operations {
		for _, ext := range op.DstExtents {
			total += ext.NumBlocks
		}
	}
	return total
}

// DeltaArchiveManifest is the decoded manifest model (spec §3).
type DeltaArchiveManifest struct {
	BlockSize           uint32
	Partitions          []PartitionUpdate
	SecurityPatchLevel  string
}

// GetBlockSize returns BlockSize, defaulting to 4096 when unset.
func (m *DeltaArchiveManifest) GetBlockSize() uint32 {
	if m == nil || m.BlockSize == 0 {
		return DefaultBlockSize
	}
	return m.BlockSize
}

// IsDifferential reports whether any operation in the manifest requires an
// old partition image (spec §4.2).
func (m *DeltaArchiveManifest) IsDifferential() bool {
	for _, p := range m.Partitions {
		for _, op := range p.Operations {
			if op.Type.IsDifferential() {
				return true
			}
		}
	}
	return false
}

// Find returns the partition with the given name, or nil.
func (m *DeltaArchiveManifest) Find(name string) *PartitionUpdate {
	for i := range m.Partitions {
		if m.Partitions[i].PartitionName == name {
			return &m.Partitions[i]
		}
	}
	return nil
}

// Wire field numbers, following the public AOSP update_metadata.proto layout.
const (
	fieldManifestBlockSize          = 3
	fieldManifestPartitions         = 13
	fieldManifestSecurityPatchLevel = 20 // best-effort; see DESIGN.md

	fieldPartitionName             = 1
	fieldPartitionOldInfo          = 6
	fieldPartitionNewInfo          = 7
	fieldPartitionOperations       = 8

	fieldPartitionInfoSize = 1
	fieldPartitionInfoHash = 2

	fieldOpType       = 1
	fieldOpDataOffset = 2
	fieldOpDataLength = 3
	fieldOpSrcExtents = 4
	fieldOpDstExtents = 6
	fieldOpDataHash   = 8

	fieldExtentStartBlock = 1
	fieldExtentNumBlocks  = 2
)

// Decode parses a DeltaArchiveManifest from its raw protobuf wire bytes.
func Decode(data []byte) (*DeltaArchiveManifest, error) {
	m := &DeltaArchiveManifest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldManifestBlockSize:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			m.BlockSize = uint32(v)
			data = data[n:]
		case fieldManifestPartitions:
			v, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			p, err := decodePartitionUpdate(v)
			if err != nil {
				return nil, fmt.Errorf("partition: %w", err)
			}
			m.Partitions = append(m.Partitions, *p)
			data = data[n:]
		case fieldManifestSecurityPatchLevel:
			v, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			m.SecurityPatchLevel = string(v)
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return m, nil
}

func decodePartitionUpdate(data []byte) (*PartitionUpdate, error) {
	p := &PartitionUpdate{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldPartitionName:
			v, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			p.PartitionName = string(v)
			data = data[n:]
		case fieldPartitionOldInfo:
			v, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			info, err := decodePartitionInfo(v)
			if err != nil {
				return nil, err
			}
			p.OldPartitionInfo = info
			data = data[n:]
		case fieldPartitionNewInfo:
			v, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			info, err := decodePartitionInfo(v)
			if err != nil {
				return nil, err
			}
			p.NewPartitionInfo = info
			data = data[n:]
		case fieldPartitionOperations:
			v, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			op, err := decodeInstallOperation(v)
			if err != nil {
				return nil, fmt.Errorf("operation: %w", err)
			}
			p.Operations = append(p.Operations, *op)
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	if p.PartitionName == "" {
		return nil, errors.New("partition_name is required")
	}
	return p, nil
}

func decodePartitionInfo(data []byte) (*PartitionInfo, error) {
	info := &PartitionInfo{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldPartitionInfoSize:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			info.Size = v
			data = data[n:]
		case fieldPartitionInfoHash:
			v, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			info.Hash = append([]byte(nil), v...)
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return info, nil
}

func decodeInstallOperation(data []byte) (*InstallOperation, error) {
	op := &InstallOperation{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldOpType:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			op.Type = OperationType(v)
			data = data[n:]
		case fieldOpDataOffset:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			op.DataOffset = v
			data = data[n:]
		case fieldOpDataLength:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			op.DataLength = v
			data = data[n:]
		case fieldOpSrcExtents:
			v, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			ext, err := decodeExtent(v)
			if err != nil {
				return nil, err
			}
			op.SrcExtents = append(op.SrcExtents, ext)
			data = data[n:]
		case fieldOpDstExtents:
			v, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			ext, err := decodeExtent(v)
			if err != nil {
				return nil, err
			}
			op.DstExtents = append(op.DstExtents, ext)
			data = data[n:]
		case fieldOpDataHash:
			v, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			op.DataSHA256Hash = append([]byte(nil), v...)
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return op, nil
}

func decodeExtent(data []byte) (Extent, error) {
	var e Extent
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldExtentStartBlock:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return e, err
			}
			e.StartBlock = v
			data = data[n:]
		case fieldExtentNumBlocks:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return e, err
			}
			e.NumBlocks = v
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return e, err
			}
			data = data[n:]
		}
	}
	return e, nil
}

func consumeVarint(data []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("expected varint, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(data []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("expected length-delimited field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func skipField(data []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, data)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

// Encode serializes a manifest back to protobuf wire bytes. Production code
// never needs to encode a manifest (it only ever reads real OTA payloads),
// but the test suite uses it to build self-consistent synthetic payloads.
func Encode(m *DeltaArchiveManifest) []byte {
	var buf []byte
	if m.BlockSize != 0 {
		buf = protowire.AppendTag(buf, fieldManifestBlockSize, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(m.BlockSize))
	}
	for _, p := range m.Partitions {
		buf = protowire.AppendTag(buf, fieldManifestPartitions, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodePartitionUpdate(&p))
	}
	if m.SecurityPatchLevel != "" {
		buf = protowire.AppendTag(buf, fieldManifestSecurityPatchLevel, protowire.BytesType)
		buf = protowire.AppendBytes(buf, []byte(m.SecurityPatchLevel))
	}
	return buf
}

func encodePartitionUpdate(p *PartitionUpdate) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldPartitionName, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte(p.PartitionName))
	if p.OldPartitionInfo != nil {
		buf = protowire.AppendTag(buf, fieldPartitionOldInfo, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodePartitionInfo(p.OldPartitionInfo))
	}
	if p.NewPartitionInfo != nil {
		buf = protowire.AppendTag(buf, fieldPartitionNewInfo, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodePartitionInfo(p.NewPartitionInfo))
	}
	for _, op := range p.Operations {
		buf = protowire.AppendTag(buf, fieldPartitionOperations, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeInstallOperation(&op))
	}
	return buf
}

func encodePartitionInfo(info *PartitionInfo) []byte {
	var buf []byte
	if info.Size != 0 {
		buf = protowire.AppendTag(buf, fieldPartitionInfoSize, protowire.VarintType)
		buf = protowire.AppendVarint(buf, info.Size)
	}
	if len(info.Hash) > 0 {
		buf = protowire.AppendTag(buf, fieldPartitionInfoHash, protowire.BytesType)
		buf = protowire.AppendBytes(buf, info.Hash)
	}
	return buf
}

func encodeInstallOperation(op *InstallOperation) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldOpType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(op.Type))
	if op.DataOffset != 0 {
		buf = protowire.AppendTag(buf, fieldOpDataOffset, protowire.VarintType)
		buf = protowire.AppendVarint(buf, op.DataOffset)
	}
	if op.DataLength != 0 {
		buf = protowire.AppendTag(buf, fieldOpDataLength, protowire.VarintType)
		buf = protowire.AppendVarint(buf, op.DataLength)
	}
	for _, ext := range op.SrcExtents {
		buf = protowire.AppendTag(buf, fieldOpSrcExtents, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeExtent(ext))
	}
	for _, ext := range op.DstExtents {
		buf = protowire.AppendTag(buf, fieldOpDstExtents, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeExtent(ext))
	}
	if len(op.DataSHA256Hash) > 0 {
		buf = protowire.AppendTag(buf, fieldOpDataHash, protowire.BytesType)
		buf = protowire.AppendBytes(buf, op.DataSHA256Hash)
	}
	return buf
}

func encodeExtent(e Extent) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldExtentStartBlock, protowire.VarintType)
	buf = protowire.AppendVarint(buf, e.StartBlock)
	buf = protowire.AppendTag(buf, fieldExtentNumBlocks, protowire.VarintType)
	buf = protowire.AppendVarint(buf, e.NumBlocks)
	return buf
}

// EncodePayload assembles a full CrAU v2 payload byte stream: header,
// encoded manifest, metadataSignature (opaque, may be empty) and data. It is
// only used by tests to build synthetic payloads end to end.
func EncodePayload(m *DeltaArchiveManifest, metadataSignature, data []byte) []byte {
	manifestBytes := Encode(m)

	var buf bytes.Buffer
	buf.WriteString(Magic)
	binary.Write(&buf, binary.BigEndian, uint64(SupportedVersion))
	binary.Write(&buf, binary.BigEndian, uint64(len(manifestBytes)))
	binary.Write(&buf, binary.BigEndian, uint32(len(metadataSignature)))
	buf.Write(manifestBytes)
	buf.Write(metadataSignature)
	buf.Write(data)
	return buf.Bytes()
}
