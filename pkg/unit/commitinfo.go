package unit

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/coldfront/lsmkv/pkg/coreerrors"
)

// DataType distinguishes the two kinds of committed unit data.
type DataType uint8

const (
	DataTypeMemLog DataType = iota
	DataTypeSSTable
)

const CommitInfoFileName = "commit_info"

// CommitInfo is the per-unit descriptor written last, after all unit
// data is durable; its presence on disk is the commit record.
type CommitInfo struct {
	CVHighInclusive uint64
	CVLowInclusive  uint64
	ReplacementNum  uint64
	DataType        DataType
}

// Text renders the commit-info line: "cv_high,cv_low,replacement_num,data_type\n".
func (c CommitInfo) Text() string {
	return fmt.Sprintf("%d,%d,%d,%d\n", c.CVHighInclusive, c.CVLowInclusive, c.ReplacementNum, uint8(c.DataType))
}

// ParseCommitInfo parses the four comma-separated decimal fields of a
// commit-info line.
func ParseCommitInfo(line string) (CommitInfo, error) {
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return CommitInfo{}, fmt.Errorf("%w: expected 4 fields, got %d", coreerrors.ErrCommitInfoCorrupt, len(fields))
	}
	high, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("%w: cv_high: %v", coreerrors.ErrCommitInfoCorrupt, err)
	}
	low, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("%w: cv_low: %v", coreerrors.ErrCommitInfoCorrupt, err)
	}
	rn, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("%w: replacement_num: %v", coreerrors.ErrCommitInfoCorrupt, err)
	}
	dt, err := strconv.ParseUint(fields[3], 10, 8)
	if err != nil || dt > 1 {
		return CommitInfo{}, fmt.Errorf("%w: data_type: %v", coreerrors.ErrCommitInfoCorrupt, err)
	}
	return CommitInfo{
		CVHighInclusive: high,
		CVLowInclusive:  low,
		ReplacementNum:  rn,
		DataType:        DataType(dt),
	}, nil
}

// WriteCommitInfo writes the commit-info file for dir, fsyncing before
// returning so that its presence on disk is a durable commit record.
func WriteCommitInfo(dir string, ci CommitInfo) error {
	path := dir + string(os.PathSeparator) + CommitInfoFileName
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return coreerrors.NewError("write-commit-info").Unit(dir).Cause(err).Err()
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(ci.Text()); err != nil {
		return coreerrors.NewError("write-commit-info").Unit(dir).Cause(err).Err()
	}
	if err := w.Flush(); err != nil {
		return coreerrors.NewError("write-commit-info").Unit(dir).Cause(err).Err()
	}
	return f.Sync()
}

// ReadCommitInfo reads and parses the commit-info file in dir. A
// missing file is reported through the returned error so callers can
// distinguish "not yet committed" from "corrupt".
func ReadCommitInfo(dir string) (CommitInfo, error) {
	path := dir + string(os.PathSeparator) + CommitInfoFileName
	data, err := os.ReadFile(path)
	if err != nil {
		return CommitInfo{}, err
	}
	return ParseCommitInfo(string(data))
}
