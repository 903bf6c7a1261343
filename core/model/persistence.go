package model

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// EncodeGob はvをgobでwに書き出す
//
// パラメータ:
//   - v: 保存する値（インターフェース値の場合は具象型がgob.Register済みであること）
//   - w: 保存先のWriter
func EncodeGob(v interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(v); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// DecodeGob はrからgobを読み込みvに格納する
//
// パラメータ:
//   - v: 読み込み先（ポインタ）
//   - r: 読み込み元のReader
func DecodeGob(v interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(v); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}

// GobBytes は推定器のGobEncode実装で使う、スナップショットのエンコードヘルパー
func GobBytes(snapshot interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeGob(snapshot, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromGobBytes はGobBytesで作ったバイト列をsnapshotへ復元する
func FromGobBytes(data []byte, snapshot interface{}) error {
	return DecodeGob(snapshot, bytes.NewReader(data))
}
