package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdScanNow    CommandType = "scan_now"
	CmdScanStop   CommandType = "scan_stop"
	CmdPause      CommandType = "pause"
	CmdResume     CommandType = "resume"
	CmdArchiveOld CommandType = "archive_old"
	CmdSaveNow    CommandType = "save_now"
	CmdRefresh    CommandType = "refresh_metrics"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	SearchIDs []string `json:"search_ids,omitempty"`
	Days      int      `json:"days,omitempty"`
}
