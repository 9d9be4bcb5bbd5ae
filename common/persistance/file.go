package persistance

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/blang/semver"

	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/common/util"
	"github.com/stustanet/meshwatch/common/version"
)

// sensorMagic is the sentinel word a valid persisted sensor bundle
// begins with, matching spec.md §6.3's flash-sector layout.
const sensorMagic uint32 = 0xDEADBEEF

// Section-validity bitmap bits, one per sub-section of SensorConfig.
const (
	sectionNodeKeys uint8 = 1 << iota
	sectionColorTable
	sectionRF
	sectionMisc

	sectionsAll = sectionNodeKeys | sectionColorTable | sectionRF | sectionMisc
)

const sensorFileSize = 4 + 1 + 3 /* magic, bitmap, config-format */ +
	1 + 16 + 16 /* node id, key_status, key_config */ +
	16*3 /* color_table */ +
	4 + 1 + 1 + 1 + 1 /* rf_config */ +
	4 + 2 + 2 + 2 /* misc_config */

// FileSensorPersister backs SensorPersister with a single flat file
// holding the exact byte layout spec.md §6.3 describes, written with a
// temp-file-then-rename atomic swap so a crash mid-write never leaves a
// torn bundle on disk (the teacher relied on youtube/vitess's
// ioutil2.WriteFileAtomic for this; see DESIGN.md for why that
// dependency wasn't carried forward).
type FileSensorPersister struct {
	Path string
}

func (p *FileSensorPersister) Load() (SensorConfig, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return SensorConfig{}, util.ErrPersistedConfigMissing
	}
	if len(data) != sensorFileSize {
		return SensorConfig{}, util.ErrPersistedConfigMissing
	}
	off := 0
	magic := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if magic != sensorMagic {
		return SensorConfig{}, util.ErrPersistedConfigMissing
	}
	sections := data[off]
	off++
	if sections != sectionsAll {
		return SensorConfig{}, util.ErrPersistedConfigMissing
	}
	cfgFormat := version.DecodeConfigFormat(data[off], data[off+1], data[off+2])
	off += 3
	if err := version.CheckCompatible(cfgFormat); err != nil {
		return SensorConfig{}, util.ErrPersistedConfigMissing
	}

	var cfg SensorConfig
	cfg.NodeID = protocol.NodeId(data[off])
	off++
	copy(cfg.KeyStatus[:], data[off:off+16])
	off += 16
	copy(cfg.KeyConfig[:], data[off:off+16])
	off += 16
	for i := range cfg.ColorTable {
		copy(cfg.ColorTable[i][:], data[off:off+3])
		off += 3
	}
	cfg.RF.CarrierHz = binary.LittleEndian.Uint32(data[off:])
	off += 4
	cfg.RF.TxPowerDb = int8(data[off])
	off++
	cfg.RF.SpreadFactor = data[off]
	off++
	cfg.RF.Coderate = data[off]
	off++
	cfg.RF.BandwidthIdx = data[off]
	off++
	cfg.Misc.NetworkTimeoutSeconds = binary.LittleEndian.Uint32(data[off:])
	off += 4
	cfg.Misc.MaxStatusRetransmissions = binary.LittleEndian.Uint16(data[off:])
	off += 2
	cfg.Misc.RtDelayRandom = binary.LittleEndian.Uint16(data[off:])
	off += 2
	cfg.Misc.RtDelayLinDiv = binary.LittleEndian.Uint16(data[off:])

	return cfg, nil
}

func (p *FileSensorPersister) Save(cfg SensorConfig) error {
	data := make([]byte, sensorFileSize)
	off := 0
	binary.LittleEndian.PutUint32(data[off:], sensorMagic)
	off += 4
	data[off] = sectionsAll
	off++
	cf := version.ConfigFormat
	data[off], data[off+1], data[off+2] = uint8(cf.Major), uint8(cf.Minor), uint8(cf.Patch)
	off += 3
	data[off] = byte(cfg.NodeID)
	off++
	copy(data[off:off+16], cfg.KeyStatus[:])
	off += 16
	copy(data[off:off+16], cfg.KeyConfig[:])
	off += 16
	for _, rgb := range cfg.ColorTable {
		copy(data[off:off+3], rgb[:])
		off += 3
	}
	binary.LittleEndian.PutUint32(data[off:], cfg.RF.CarrierHz)
	off += 4
	data[off] = byte(cfg.RF.TxPowerDb)
	off++
	data[off] = cfg.RF.SpreadFactor
	off++
	data[off] = cfg.RF.Coderate
	off++
	data[off] = cfg.RF.BandwidthIdx
	off++
	binary.LittleEndian.PutUint32(data[off:], cfg.Misc.NetworkTimeoutSeconds)
	off += 4
	binary.LittleEndian.PutUint16(data[off:], cfg.Misc.MaxStatusRetransmissions)
	off += 2
	binary.LittleEndian.PutUint16(data[off:], cfg.Misc.RtDelayRandom)
	off += 2
	binary.LittleEndian.PutUint16(data[off:], cfg.Misc.RtDelayLinDiv)

	return writeFileAtomic(p.Path, data, 0600)
}

const masterFileHeaderSize = 4 + 3 // magic + config-format
const masterKeyPairSize = 32
const masterSlotCount = int(protocol.MaxNodeID) + 1

// masterMagic distinguishes the master's persisted key table from a
// sensor's bundle; both share the file-backed atomic-write machinery
// but have unrelated layouts.
const masterMagic uint32 = 0xC0FFEE00

// FileMasterPersister backs MasterPersister with a single flat file: a
// small header followed by one fixed-size key-pair slot per possible
// NodeId, so LoadKeys/SaveKeys are O(1) seeks rather than a scan.
type FileMasterPersister struct {
	Path string
}

func (p *FileMasterPersister) ensureFile() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p.Path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	wantSize := int64(masterFileHeaderSize + masterSlotCount*masterKeyPairSize)
	if info.Size() == 0 {
		buf := make([]byte, wantSize)
		binary.LittleEndian.PutUint32(buf, masterMagic)
		cf := version.ConfigFormat
		buf[4], buf[5], buf[6] = uint8(cf.Major), uint8(cf.Minor), uint8(cf.Patch)
		if _, err := f.WriteAt(buf, 0); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (p *FileMasterPersister) LoadKeys(id protocol.NodeId) (MasterKeyPair, bool, error) {
	if !id.Valid() {
		return MasterKeyPair{}, false, util.ErrBadParam
	}
	f, err := p.ensureFile()
	if err != nil {
		return MasterKeyPair{}, false, err
	}
	defer f.Close()

	buf := make([]byte, masterKeyPairSize)
	offset := int64(masterFileHeaderSize) + int64(id)*int64(masterKeyPairSize)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return MasterKeyPair{}, false, err
	}
	var empty MasterKeyPair
	var kp MasterKeyPair
	copy(kp.KeyStatus[:], buf[:16])
	copy(kp.KeyConfig[:], buf[16:32])
	if kp == empty {
		return MasterKeyPair{}, false, nil
	}
	return kp, true, nil
}

func (p *FileMasterPersister) SaveKeys(id protocol.NodeId, keys MasterKeyPair) error {
	if !id.Valid() {
		return util.ErrBadParam
	}
	f, err := p.ensureFile()
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, masterKeyPairSize)
	copy(buf[:16], keys.KeyStatus[:])
	copy(buf[16:32], keys.KeyConfig[:])
	offset := int64(masterFileHeaderSize) + int64(id)*int64(masterKeyPairSize)
	_, err = f.WriteAt(buf, offset)
	return err
}

// writeFileAtomic writes data to path via a temp file in the same
// directory followed by a rename, so a crash mid-write can never leave
// a torn bundle where a reader would see a valid magic word over
// corrupt contents.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
