// Package planner splits a file into the parts of a multipart upload.
package planner

import (
	"github.com/TraceLTRC/pdrive-cli/entity"
	"github.com/TraceLTRC/pdrive-cli/errs"
)

const (
	DefaultMinPartSizeFloor = 5 * 1024 * 1024
	DefaultMaxPartCount     = 10000
	DefaultPartSize         = 8 * 1024 * 1024
)

type Planner struct {
	floor int64
}

// New returns a planner that rejects part sizes below floor.
// A zero floor disables the check.
func New(floor int64) *Planner {
	return &Planner{floor: floor}
}

// Plan splits fileSize into parts of minPartSize, the last part takes the
// remainder. Files not larger than minPartSize get a single part.
func (p *Planner) Plan(fileSize int64, minPartSize int64, maxPartCount int) (*entity.ChunkPlan, error) {
	if fileSize <= 0 {
		return nil, errs.New(errs.KindInvalidSize, "plan", "invalid file size:%d", fileSize)
	}
	if minPartSize <= 0 {
		return nil, errs.New(errs.KindInvalidSize, "plan", "invalid part size:%d", minPartSize)
	}
	if maxPartCount <= 0 {
		return nil, errs.New(errs.KindInvalidSize, "plan", "invalid max part count:%d", maxPartCount)
	}
	if fileSize <= minPartSize {
		return &entity.ChunkPlan{
			FileSize: fileSize,
			PartSize: fileSize,
			Chunks:   []entity.Chunk{{Index: 0, Offset: 0, Length: fileSize}},
		}, nil
	}
	if p.floor > 0 && minPartSize < p.floor {
		return nil, errs.New(errs.KindInvalidSize, "plan", "part size:%d below remote minimum:%d", minPartSize, p.floor)
	}
	count := (fileSize + minPartSize - 1) / minPartSize
	if count > int64(maxPartCount) {
		return nil, errs.New(errs.KindInvalidSize, "plan", "part count:%d exceeds limit:%d, raise part size", count, maxPartCount)
	}
	chunks := make([]entity.Chunk, 0, count)
	for i := int64(0); i < count; i++ {
		offset := i * minPartSize
		length := minPartSize
		if i == count-1 {
			length = fileSize - offset
		}
		chunks = append(chunks, entity.Chunk{Index: int(i), Offset: offset, Length: length})
	}
	return &entity.ChunkPlan{
		FileSize: fileSize,
		PartSize: minPartSize,
		Chunks:   chunks,
	}, nil
}

// AutoPlan doubles the part size until the plan fits into maxPartCount.
func (p *Planner) AutoPlan(fileSize int64, minPartSize int64, maxPartCount int) (*entity.ChunkPlan, error) {
	partSize := minPartSize
	for {
		plan, err := p.Plan(fileSize, partSize, maxPartCount)
		if err == nil {
			return plan, nil
		}
		if partSize <= 0 || maxPartCount <= 0 || fileSize <= 0 || (p.floor > 0 && partSize < p.floor) {
			return nil, err
		}
		partSize *= 2
	}
}
