package worker

const (
	apiSingleUpload = "/upload/%s"
	apiInitiate     = "/upload-part/init/%s"
	apiPutPart      = "/upload-part/put/%s/%s"
	apiFinish       = "/upload-part/finish/%s/%s"
	apiAbort        = "/upload-part/abort/%s/%s"
)

const (
	HeaderBucket = "X-Pdrive-Bucket"
	HeaderSha256 = "X-Pdrive-Sha256"
)

type InitiateResponse struct {
	Key      string `json:"key"`
	UploadId string `json:"uploadId"`
}

type PartResponse struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
	Sha256     string `json:"sha256,omitempty"`
}

type FinishPart struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}

type ObjectResponse struct {
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	ETag     string `json:"etag"`
	Sha256   string `json:"sha256,omitempty"`
	Location string `json:"location,omitempty"`
}
