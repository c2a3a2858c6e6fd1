package model

// SizePreset is a named output size accepted by the edit model.
type SizePreset string

const (
	SizeAuto          SizePreset = "auto"
	SizeSquareHD      SizePreset = "square_hd"
	SizeSquare        SizePreset = "square"
	SizePortrait4x3   SizePreset = "portrait_4_3"
	SizePortrait16x9  SizePreset = "portrait_16_9"
	SizeLandscape4x3  SizePreset = "landscape_4_3"
	SizeLandscape16x9 SizePreset = "landscape_16_9"
)

// Valid reports whether p is a recognized preset.
func (p SizePreset) Valid() bool {
	switch p {
	case SizeAuto, SizeSquareHD, SizeSquare, SizePortrait4x3, SizePortrait16x9, SizeLandscape4x3, SizeLandscape16x9:
		return true
	}
	return false
}

// OutputFormat is the encoding of the edited image.
type OutputFormat string

const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
	FormatWebP OutputFormat = "webp"
)

// Valid reports whether f is a recognized output format.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatPNG, FormatJPEG, FormatWebP:
		return true
	}
	return false
}

// EditOutcome is the boundary-visible result class of an edit job.
type EditOutcome string

const (
	EditSucceeded      EditOutcome = "success"
	EditPartialSuccess EditOutcome = "partial_success"
)

// EditStage names a step of the edit pipeline, used to report where a job failed.
type EditStage string

const (
	StageValidate EditStage = "validate"
	StageStage    EditStage = "stage"
	StageUpload   EditStage = "upload"
	StageEdit     EditStage = "edit"
)
