package volume

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"syscall"
)

// Code mirrors the error numbering of embedded FAT libraries so that
// logs read the same as on the card firmware.
type Code int

const (
	NoError Code = iota
	ErrCodeInvalidDrive
	ErrCodeNotFormatted
	ErrCodeInvalidDir
	ErrCodeInvalidName
	ErrCodeNotFound
	ErrCodeDuplicated
	ErrCodeNoMoreEntry
	ErrCodeNotOpen
	ErrCodeEOF
	ErrCodeReserved
	ErrCodeNotUseable
	ErrCodeLocked
	ErrCodeAccessDenied
	ErrCodeNotEmpty
	ErrCodeInitFunc
	ErrCodeCardRemoved
	ErrCodeOnDrive
	ErrCodeInvalidSector
	ErrCodeRead
	ErrCodeWrite
	ErrCodeInvalidMedia
	ErrCodeBusy
	ErrCodeWriteProtect
	ErrCodeInvFatType
	ErrCodeMediaTooSmall
	ErrCodeMediaTooLarge
	ErrCodeNotSuppSectorSize
	ErrCodeDelFunc
	ErrCodeMounted
	ErrCodeTooLongName
	ErrCodeNotForRead
	ErrCodeDelFunc2
	ErrCodeAllocation
	ErrCodeInvalidPos
	ErrCodeNoMoreTask
	ErrCodeNotAvailable
	ErrCodeTaskNotFound
	ErrCodeUnusable
)

var codeNames = [...]string{
	"F_NO_ERROR",
	"F_ERR_INVALIDDRIVE",
	"F_ERR_NOTFORMATTED",
	"F_ERR_INVALIDDIR",
	"F_ERR_INVALIDNAME",
	"F_ERR_NOTFOUND",
	"F_ERR_DUPLICATED",
	"F_ERR_NOMOREENTRY",
	"F_ERR_NOTOPEN",
	"F_ERR_EOF",
	"F_ERR_RESERVED",
	"F_ERR_NOTUSEABLE",
	"F_ERR_LOCKED",
	"F_ERR_ACCESSDENIED",
	"F_ERR_NOTEMPTY",
	"F_ERR_INITFUNC",
	"F_ERR_CARDREMOVED",
	"F_ERR_ONDRIVE",
	"F_ERR_INVALIDSECTOR",
	"F_ERR_READ",
	"F_ERR_WRITE",
	"F_ERR_INVALIDMEDIA",
	"F_ERR_BUSY",
	"F_ERR_WRITEPROTECT",
	"F_ERR_INVFATTYPE",
	"F_ERR_MEDIATOOSMALL",
	"F_ERR_MEDIATOOLARGE",
	"F_ERR_NOTSUPPSECTORSIZE",
	"F_ERR_DELFUNC",
	"F_ERR_MOUNTED",
	"F_ERR_TOOLONGNAME",
	"F_ERR_NOTFORREAD",
	"F_ERR_DELFUNC",
	"F_ERR_ALLOCATION",
	"F_ERR_INVALIDPOS",
	"F_ERR_NOMORETASK",
	"F_ERR_NOTAVAILABLE",
	"F_ERR_TASKNOTFOUND",
	"F_ERR_UNUSABLE",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("Unknown error code [%d]", int(c))
}

var (
	ErrNoMoreTask   = errors.New("volume: no more tasks available")
	ErrNotMounted   = errors.New("volume: card not mounted")
	ErrTaskReleased = errors.New("volume: task already released")
	ErrOutsideCard  = errors.New("volume: path leaves the card")
)

// Error is returned by every volume and task operation.
type Error struct {
	Op   string
	Path string
	Code Code
	Err  error
}

func (e *Error) Error() string {
	msg := "volume: " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf maps any error to the closest card error code.
func CodeOf(err error) Code {
	if err == nil {
		return NoError
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	switch {
	case errors.Is(err, ErrNoMoreTask):
		return ErrCodeNoMoreTask
	case errors.Is(err, ErrNotMounted):
		return ErrCodeInvalidDrive
	case errors.Is(err, ErrTaskReleased):
		return ErrCodeTaskNotFound
	case errors.Is(err, io.EOF):
		return ErrCodeEOF
	case errors.Is(err, syscall.ENOTEMPTY):
		return ErrCodeNotEmpty
	case errors.Is(err, syscall.ENOTDIR):
		return ErrCodeInvalidDir
	case errors.Is(err, syscall.EROFS):
		return ErrCodeWriteProtect
	case errors.Is(err, syscall.ENAMETOOLONG):
		return ErrCodeTooLongName
	case errors.Is(err, syscall.EBUSY):
		return ErrCodeBusy
	case errors.Is(err, fs.ErrNotExist):
		return ErrCodeNotFound
	case errors.Is(err, fs.ErrExist):
		return ErrCodeDuplicated
	case errors.Is(err, fs.ErrPermission):
		return ErrCodeAccessDenied
	case errors.Is(err, fs.ErrInvalid):
		return ErrCodeInvalidName
	case errors.Is(err, fs.ErrClosed):
		return ErrCodeNotOpen
	}
	return ErrCodeUnusable
}

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		return err
	}
	return &Error{Op: op, Path: path, Code: CodeOf(err), Err: err}
}
