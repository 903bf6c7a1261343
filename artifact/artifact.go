// Package artifact persists a trained model together with its preprocessing
// state so that it can be reloaded and applied to new raw data.
//
// The blob is a gob-encoded envelope. Estimator concrete types are
// registered with gob by their own packages.
package artifact

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/preprocessing"
	"github.com/YuminosukeSato/mlexplorer/training"
)

const (
	// Magic identifies an mlexplorer artifact.
	Magic = "MLXARTIFACT"
	// FormatVersion is bumped on incompatible envelope changes.
	FormatVersion = 1
	// Extension of files written by SaveFile.
	Extension = ".mlx"
)

// envelope is the on-disk layout.
type envelope struct {
	Magic         string
	FormatVersion int
	ID            string
	CreatedAt     time.Time
	ModelName     string
	Family        string
	Index         int
	ProblemType   dataset.ProblemType
	Hyperparams   map[string]interface{}
	Estimator     model.Estimator
	State         *preprocessing.State
	Fingerprint   preprocessing.Fingerprint
	CV            *training.CVSummary
}

// Artifact is a loaded model with its metadata.
type Artifact struct {
	ID          uuid.UUID
	CreatedAt   time.Time
	Fingerprint preprocessing.Fingerprint
	Model       *training.TrainedModel
}

// Save writes tm to w.
func Save(w io.Writer, tm *training.TrainedModel) (*Artifact, error) {
	env, err := newEnvelope(tm)
	if err != nil {
		return nil, err
	}
	if err := gob.NewEncoder(w).Encode(env); err != nil {
		return nil, errors.Wrapf(err, "artifact: encode %s", tm.Name)
	}
	return &Artifact{
		ID:          uuid.MustParse(env.ID),
		CreatedAt:   env.CreatedAt,
		Fingerprint: env.Fingerprint,
		Model:       tm,
	}, nil
}

// Marshal encodes tm into a byte slice.
func Marshal(tm *training.TrainedModel) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Save(&buf, tm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads an artifact from r. Every structural problem is reported as
// IncompatibleArtifactError.
func Load(r io.Reader) (*Artifact, error) {
	var env envelope
	if err := gob.NewDecoder(r).Decode(&env); err != nil {
		return nil, errors.NewIncompatibleArtifactError("payload cannot be decoded", err)
	}
	return env.artifact()
}

// Unmarshal decodes an artifact produced by Marshal.
func Unmarshal(data []byte) (*Artifact, error) {
	return Load(bytes.NewReader(data))
}

// LoadFor loads an artifact and checks that ds provides the features the
// model was trained on. A mismatch is a SchemaMismatchError naming the
// missing and type-changed columns.
func LoadFor(r io.Reader, ds *dataset.Dataset) (*Artifact, error) {
	a, err := Load(r)
	if err != nil {
		return nil, err
	}
	if err := a.Model.State.CheckSchema(ds); err != nil {
		return nil, err
	}
	return a, nil
}

// SaveFile writes tm to dir/<model>-<id>.mlx and returns the path. The file
// appears atomically.
func SaveFile(dir string, tm *training.TrainedModel) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "artifact: create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return "", errors.Wrap(err, "artifact: create temp file")
	}
	defer os.Remove(tmp.Name())

	a, err := Save(tmp, tm)
	if err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "artifact: close temp file")
	}
	path := filepath.Join(dir, tm.Name+"-"+a.ID.String()+Extension)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrapf(err, "artifact: rename to %s", path)
	}
	return path, nil
}

// LoadFile reads the artifact at path.
func LoadFile(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "artifact: open %s", path)
	}
	defer f.Close()
	return Load(f)
}

func newEnvelope(tm *training.TrainedModel) (*envelope, error) {
	if tm == nil || tm.Estimator == nil {
		return nil, errors.NewIncompatibleArtifactError("model has no fitted estimator", nil)
	}
	if tm.State == nil {
		return nil, errors.NewIncompatibleArtifactError("model has no preprocessing state", nil)
	}
	return &envelope{
		Magic:         Magic,
		FormatVersion: FormatVersion,
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		ModelName:     tm.Name,
		Family:        tm.Family,
		Index:         tm.Index,
		ProblemType:   tm.ProblemType,
		Hyperparams:   tm.Params,
		Estimator:     tm.Estimator,
		State:         tm.State,
		Fingerprint:   tm.State.Fingerprint(),
		CV:            tm.CV,
	}, nil
}

func (e *envelope) artifact() (*Artifact, error) {
	switch {
	case e.Magic != Magic:
		return nil, errors.NewIncompatibleArtifactError("not an mlexplorer artifact", nil)
	case e.FormatVersion != FormatVersion:
		return nil, errors.NewIncompatibleArtifactError("unsupported format version", errors.Newf("got %d, want %d", e.FormatVersion, FormatVersion))
	case e.Estimator == nil:
		return nil, errors.NewIncompatibleArtifactError("estimator missing", nil)
	case e.State == nil:
		return nil, errors.NewIncompatibleArtifactError("preprocessing state missing", nil)
	}
	if fp := e.State.Fingerprint(); !fp.Equal(e.Fingerprint) {
		return nil, errors.NewIncompatibleArtifactError("fingerprint does not match the stored state",
			errors.Newf("stored %s, state %s", e.Fingerprint.Hash, fp.Hash))
	}
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return nil, errors.NewIncompatibleArtifactError("invalid artifact id", err)
	}

	return &Artifact{
		ID:          id,
		CreatedAt:   e.CreatedAt,
		Fingerprint: e.Fingerprint,
		Model: &training.TrainedModel{
			Name:        e.ModelName,
			Family:      e.Family,
			Index:       e.Index,
			ProblemType: e.ProblemType,
			Estimator:   e.Estimator,
			Params:      e.Hyperparams,
			State:       e.State,
			CV:          e.CV,
		},
	}, nil
}
