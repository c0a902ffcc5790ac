package builder

import "fmt"

// Stage 构建步骤，用于定位失败原因
type Stage string

const (
	StageAccount Stage = "account"
	StageAsset   Stage = "asset"
	StageMessage Stage = "message"
	StageFee     Stage = "fee"
	StageEncode  Stage = "encode"
)

// BuildError 构建阶段（账户解析到编码）的失败
type BuildError struct {
	Stage Stage
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func wrap(stage Stage, err error) error {
	return &BuildError{Stage: stage, Err: err}
}
