package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var errEmptyPayload = errors.New("empty protobuf payload")

// encodeStruct кодирует значение как google.protobuf.Struct (через его JSON-представление)
func encodeStruct(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// decodeStruct - обратное к encodeStruct
func decodeStruct(data []byte, dest interface{}) error {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return err
	}
	if len(st.GetFields()) == 0 {
		return errEmptyPayload
	}
	raw, err := json.Marshal(st.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// decodePayload: сначала Protobuf, затем JSON
func decodePayload(data []byte, dest interface{}) error {
	if err := decodeStruct(data, dest); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("payload is neither protobuf struct nor JSON: %w", err)
	}
	return nil
}
